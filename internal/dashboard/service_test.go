package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-it/helpdesk/internal/equipment"
	"github.com/hospital-it/helpdesk/internal/rbac"
	"github.com/hospital-it/helpdesk/internal/shared"
	"github.com/hospital-it/helpdesk/internal/tickets"
)

type fakeTickets struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTickets) Counts(ctx context.Context, actor *rbac.Principal) (map[tickets.Status]int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return map[tickets.Status]int{tickets.StatusOpen: 3, tickets.StatusResolved: 1}, nil
}

type fakeTasks struct{ calls atomic.Int32 }

func (f *fakeTasks) OpenCounts(ctx context.Context, actor *rbac.Principal) (int, int, error) {
	f.calls.Add(1)
	return 4, 2, nil
}

type fakeEquipment struct{ calls atomic.Int32 }

func (f *fakeEquipment) Counts(ctx context.Context, actor *rbac.Principal) (map[equipment.Status]int, error) {
	f.calls.Add(1)
	return map[equipment.Status]int{equipment.StatusInService: 12, equipment.StatusUnderRepair: 1}, nil
}

func newCache(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSummaryRespectsPermissions(t *testing.T) {
	tk, ts, eq := &fakeTickets{}, &fakeTasks{}, &fakeEquipment{}
	svc := NewService(tk, ts, eq, nil, time.Minute, nil)

	sum, err := svc.Summary(context.Background(), &rbac.Principal{ID: 9, Role: rbac.RoleEndUser})
	require.NoError(t, err)
	assert.False(t, sum.ShowTasks)
	assert.False(t, sum.ShowEquipment)
	assert.Empty(t, sum.Equipment)
	require.Len(t, sum.Tickets, len(tickets.Statuses()))
	assert.Equal(t, 3, sum.Tickets[0].Count)
	assert.Zero(t, ts.calls.Load())
	assert.Zero(t, eq.calls.Load())

	sum, err = svc.Summary(context.Background(), &rbac.Principal{ID: 2, Role: rbac.RoleTechnician})
	require.NoError(t, err)
	assert.True(t, sum.ShowTasks)
	assert.Equal(t, 4, sum.OpenTasks)
	assert.Equal(t, 2, sum.OverdueTasks)
	require.True(t, sum.ShowEquipment)
	assert.Equal(t, 12, sum.Equipment[0].Count)

	_, err = svc.Summary(context.Background(), nil)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestSummaryIsCachedPerUser(t *testing.T) {
	client, mr := newCache(t)
	tk := &fakeTickets{}
	svc := NewService(tk, &fakeTasks{}, &fakeEquipment{}, client, 30*time.Second, nil)
	nurse := &rbac.Principal{ID: 9, Role: rbac.RoleEndUser}

	_, err := svc.Summary(context.Background(), nurse)
	require.NoError(t, err)
	_, err = svc.Summary(context.Background(), nurse)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tk.calls.Load())
	assert.True(t, mr.Exists("helpdesk:dashboard:9:end_user"))

	_, err = svc.Summary(context.Background(), &rbac.Principal{ID: 10, Role: rbac.RoleEndUser})
	require.NoError(t, err)
	assert.Equal(t, int32(2), tk.calls.Load())

	svc.Invalidate(context.Background(), nurse)
	_, err = svc.Summary(context.Background(), nurse)
	require.NoError(t, err)
	assert.Equal(t, int32(3), tk.calls.Load())

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists("helpdesk:dashboard:10:end_user"))
}

func TestSummaryErrorIsNotCached(t *testing.T) {
	client, mr := newCache(t)
	tk := &fakeTickets{err: errors.New("db down")}
	svc := NewService(tk, &fakeTasks{}, &fakeEquipment{}, client, time.Minute, nil)

	_, err := svc.Summary(context.Background(), &rbac.Principal{ID: 1, Role: rbac.RoleAdmin})
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}
