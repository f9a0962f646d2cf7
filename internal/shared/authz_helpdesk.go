package shared

// Ticket permissions.
const (
	PermTicketsView    = "tickets.view"
	PermTicketsViewAll = "tickets.view_all"
	PermTicketsCreate  = "tickets.create"
	PermTicketsUpdate  = "tickets.update"
	PermTicketsAssign  = "tickets.assign"
	PermTicketsClose   = "tickets.close"
	PermTicketsComment = "tickets.comment"
)

// Task permissions.
const (
	PermTasksView     = "tasks.view"
	PermTasksViewAll  = "tasks.view_all"
	PermTasksCreate   = "tasks.create"
	PermTasksAssign   = "tasks.assign"
	PermTasksComplete = "tasks.complete"
)

// Equipment inventory permissions.
const (
	PermEquipmentView   = "equipment.view"
	PermEquipmentCreate = "equipment.create"
	PermEquipmentEdit   = "equipment.edit"
	PermEquipmentRetire = "equipment.retire"
)

// TicketScopes lists all ticket permissions.
func TicketScopes() []string {
	return []string{
		PermTicketsView,
		PermTicketsViewAll,
		PermTicketsCreate,
		PermTicketsUpdate,
		PermTicketsAssign,
		PermTicketsClose,
		PermTicketsComment,
	}
}

// TaskScopes lists all task permissions.
func TaskScopes() []string {
	return []string{
		PermTasksView,
		PermTasksViewAll,
		PermTasksCreate,
		PermTasksAssign,
		PermTasksComplete,
	}
}

// EquipmentScopes lists all inventory permissions.
func EquipmentScopes() []string {
	return []string{
		PermEquipmentView,
		PermEquipmentCreate,
		PermEquipmentEdit,
		PermEquipmentRetire,
	}
}
