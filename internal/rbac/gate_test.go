package rbac

import (
	"html/template"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAnyOfRoles(t *testing.T) {
	g := Gate{Roles: []Role{RoleTechnician, RoleAdmin}, Mode: ModeAny}
	assert.False(t, g.Allows(&Principal{ID: 1, Role: RoleEndUser}))
	assert.True(t, g.Allows(&Principal{ID: 2, Role: RoleTechnician}))
}

func TestGateAllOfPermissions(t *testing.T) {
	g := Gate{Permissions: []string{"a", "b"}, Mode: ModeAll}
	assert.False(t, g.Allows(&Principal{ID: 1, Role: RoleEndUser, Permissions: []string{"a"}}))
	assert.True(t, g.Allows(&Principal{ID: 1, Role: RoleEndUser, Permissions: []string{"a", "b"}}))
}

func TestGateMixedRequirements(t *testing.T) {
	p := &Principal{ID: 1, Role: RoleEndUser, Permissions: []string{"a"}}

	all := Gate{Permissions: []string{"a"}, Roles: []Role{RoleManager}, Mode: ModeAll}
	assert.False(t, all.Allows(p))
	all.Roles = []Role{RoleManager, RoleEndUser}
	assert.True(t, all.Allows(p))

	anyGate := Gate{Permissions: []string{"z"}, Roles: []Role{RoleEndUser}, Mode: ModeAny}
	assert.True(t, anyGate.Allows(p))
	anyGate.Roles = []Role{RoleManager}
	assert.False(t, anyGate.Allows(p))
}

func TestGateEdgeCases(t *testing.T) {
	assert.False(t, Gate{}.Allows(nil))
	assert.True(t, Gate{}.Allows(&Principal{ID: 1, Role: RoleEndUser}))
	assert.True(t, Gate{Permissions: []string{"x"}, Mode: ModeAny}.Allows(&Principal{ID: 1, Role: RoleAdmin}))
	assert.Equal(t, ModeAny, ParseMode(" ANY "))
	assert.Equal(t, ModeAll, ParseMode("bogus"))
}

func TestFuncMapOmitsDeniedFragments(t *testing.T) {
	tmpl := template.Must(template.New("t").Funcs(FuncMap()).Parse(
		`{{if hasAnyRole .P "technician" "admin"}}[staff]{{end}}` +
			`{{if canAll .P "a" "b"}}[ab]{{end}}` +
			`{{if can .P "a"}}[a]{{end}}` +
			`{{if canAny .P "z" "a"}}[za]{{end}}` +
			`{{if hasRole .P "end_user"}}<span class="badge bg-{{roleColor .P.Role}}">{{roleName .P.Role}}</span>{{end}}`))

	render := func(p *Principal) string {
		var b strings.Builder
		require.NoError(t, tmpl.Execute(&b, map[string]any{"P": p}))
		return b.String()
	}

	out := render(&Principal{ID: 1, Role: RoleEndUser, Permissions: []string{"a"}})
	assert.Equal(t, `[a][za]<span class="badge bg-success">End User</span>`, out)

	out = render(&Principal{ID: 2, Role: RoleAdmin})
	assert.Equal(t, "[staff][ab][a][za]", out)
}

func TestFuncMapGateMixesPermissionsAndRoles(t *testing.T) {
	// Permission names outside the role table keep role defaults out of it.
	tmpl := template.Must(template.New("t").Funcs(FuncMap()).Parse(
		`{{if gate .P "any" (perms "queue.assign") (roles "manager")}}[assign]{{end}}` +
			`{{if gate .P "all" (perms "queue.read" "queue.write") (roles "technician" "manager")}}[work]{{end}}` +
			`{{if gate .P "all" (perms) (roles)}}[signed-in]{{end}}`))

	render := func(p *Principal) string {
		var b strings.Builder
		require.NoError(t, tmpl.Execute(&b, map[string]any{"P": p}))
		return b.String()
	}

	assert.Empty(t, render(nil))
	assert.Equal(t, "[signed-in]", render(&Principal{ID: 1, Role: RoleEndUser, Permissions: []string{"queue.read", "queue.write"}}))
	assert.Equal(t, "[assign][signed-in]", render(&Principal{ID: 2, Role: RoleEndUser, Permissions: []string{"queue.assign"}}))
	assert.Equal(t, "[assign][work][signed-in]", render(&Principal{ID: 3, Role: RoleManager, Permissions: []string{"queue.read", "queue.write"}}))
	assert.Equal(t, "[signed-in]", render(&Principal{ID: 4, Role: RoleTechnician, Permissions: []string{"queue.read"}}))
	assert.Equal(t, "[work][signed-in]", render(&Principal{ID: 5, Role: RoleTechnician, Permissions: []string{"queue.read", "queue.write"}}))
}
