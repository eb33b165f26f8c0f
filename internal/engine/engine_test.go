package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

// recorder implements every component interface and notes which method ran.
type recorder struct {
	calls  []string
	tenant string
	err    error
}

func (r *recorder) note(tenant, call string) {
	r.tenant = tenant
	r.calls = append(r.calls, call)
}

func (r *recorder) Enqueue(_ context.Context, tenant, doctorID, date string, e queue.Entry) (queue.Entry, error) {
	r.note(tenant, "enqueue:"+doctorID+":"+date+":"+e.AppointmentID)
	e.Position = 1
	return e, r.err
}

func (r *recorder) GetQueue(_ context.Context, tenant, doctorID, _, locationID string) ([]queue.Entry, error) {
	r.note(tenant, "get_queue:"+doctorID+":"+locationID)
	return []queue.Entry{}, r.err
}

func (r *recorder) Snapshot(_ context.Context, tenant, doctorID, _ string) (queue.Snapshot, error) {
	r.note(tenant, "snapshot:"+doctorID)
	return queue.Snapshot{DoctorID: doctorID}, r.err
}

func (r *recorder) Confirm(_ context.Context, tenant, id string) (queue.Entry, error) {
	r.note(tenant, "confirm:"+id)
	return queue.Entry{AppointmentID: id}, r.err
}

func (r *recorder) StartConsultation(_ context.Context, tenant, id, doctorID string) (queue.Entry, error) {
	r.note(tenant, "start:"+id+":"+doctorID)
	return queue.Entry{AppointmentID: id}, r.err
}

func (r *recorder) Reorder(_ context.Context, tenant, doctorID, _ string, order []string) ([]queue.Entry, error) {
	r.note(tenant, "reorder:"+doctorID)
	return make([]queue.Entry, len(order)), r.err
}

func (r *recorder) EscalateEmergency(_ context.Context, tenant, id string, _ int) (queue.Entry, error) {
	r.note(tenant, "escalate:"+id)
	return queue.Entry{AppointmentID: id}, r.err
}

func (r *recorder) Complete(_ context.Context, tenant, id string) (queue.Entry, error) {
	r.note(tenant, "complete:"+id)
	return queue.Entry{AppointmentID: id}, r.err
}

func (r *recorder) Locate(_ context.Context, tenant, id string) (queue.Location, error) {
	r.note(tenant, "locate:"+id)
	return queue.Location{AppointmentID: id, Position: 2}, r.err
}

func (r *recorder) AddEntry(_ context.Context, tenant string, in waitlist.AddInput) (waitlist.Entry, error) {
	r.note(tenant, "add:"+in.PatientID)
	return waitlist.Entry{ID: "wl-1"}, r.err
}

func (r *recorder) List(_ context.Context, tenant string, f waitlist.Filter) ([]waitlist.Entry, error) {
	r.note(tenant, "list:"+f.DoctorID)
	return nil, r.err
}

func (r *recorder) Process(_ context.Context, tenant, doctorID, clinicID string) (waitlist.ProcessResult, error) {
	r.note(tenant, "process:"+doctorID+":"+clinicID)
	return waitlist.ProcessResult{Processed: 1}, r.err
}

func (r *recorder) ProcessAll(_ context.Context, tenant string) (waitlist.ProcessResult, error) {
	r.note(tenant, "process_all")
	return waitlist.ProcessResult{Processed: 3}, r.err
}

func (r *recorder) Remove(_ context.Context, tenant, id string) error {
	r.note(tenant, "remove:"+id)
	return r.err
}

func (r *recorder) Update(_ context.Context, tenant, id string, _ waitlist.Patch) (waitlist.Entry, error) {
	r.note(tenant, "update:"+id)
	return waitlist.Entry{ID: id}, r.err
}

func (r *recorder) Metrics(_ context.Context, tenant string, _ waitlist.Filter) (waitlist.Metrics, error) {
	r.note(tenant, "metrics")
	return waitlist.Metrics{Total: 7}, r.err
}

func (r *recorder) LocationStats(_ context.Context, tenant, locationID string) queue.LocationStats {
	r.note(tenant, "stats:"+locationID)
	return queue.LocationStats{LocationID: locationID, Healthy: true}
}

func newTestEngine() (*Engine, *recorder) {
	r := &recorder{}
	return New(r, r, r, r, zerolog.Nop()), r
}

func TestExecute_RoutesEveryCommand(t *testing.T) {
	cases := []struct {
		cmd  Command
		call string
	}{
		{Enqueue{DoctorID: "doc-1", Date: "2026-10-19", Entry: queue.Entry{AppointmentID: "A"}}, "enqueue:doc-1:2026-10-19:A"},
		{GetQueue{DoctorID: "doc-1", Date: "2026-10-19", LocationID: "north"}, "get_queue:doc-1:north"},
		{QueueSnapshot{DoctorID: "doc-1", Date: "2026-10-19"}, "snapshot:doc-1"},
		{Confirm{AppointmentID: "A"}, "confirm:A"},
		{StartConsultation{AppointmentID: "A", DoctorID: "doc-1"}, "start:A:doc-1"},
		{Reorder{DoctorID: "doc-1", Date: "2026-10-19", NewOrder: []string{"B", "A"}}, "reorder:doc-1"},
		{EscalateEmergency{AppointmentID: "A", Priority: 10}, "escalate:A"},
		{Complete{AppointmentID: "A"}, "complete:A"},
		{Locate{AppointmentID: "A"}, "locate:A"},
		{AddWaitlistEntry{Input: waitlist.AddInput{PatientID: "pat"}}, "add:pat"},
		{ListWaitlist{Filter: waitlist.Filter{DoctorID: "doc-1"}}, "list:doc-1"},
		{ProcessWaitlist{DoctorID: "doc-1", ClinicID: "north"}, "process:doc-1:north"},
		{ProcessWaitlist{}, "process_all"},
		{RemoveWaitlistEntry{ID: "wl-1"}, "remove:wl-1"},
		{UpdateWaitlistEntry{ID: "wl-1"}, "update:wl-1"},
		{WaitlistMetrics{}, "metrics"},
		{LocationStats{LocationID: "north"}, "stats:north"},
	}

	for _, tc := range cases {
		t.Run(Name(tc.cmd), func(t *testing.T) {
			e, r := newTestEngine()
			_, err := e.Execute(context.Background(), "acme", tc.cmd)
			require.NoError(t, err)
			assert.Equal(t, []string{tc.call}, r.calls)
			assert.Equal(t, "acme", r.tenant)
		})
	}
}

func TestExecute_ReturnsComponentResult(t *testing.T) {
	e, _ := newTestEngine()

	out, err := e.Execute(context.Background(), "acme", Locate{AppointmentID: "A"})
	require.NoError(t, err)
	loc, ok := out.(queue.Location)
	require.True(t, ok)
	assert.Equal(t, 2, loc.Position)

	out, err = e.Execute(context.Background(), "acme", RemoveWaitlistEntry{ID: "wl-1"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExecute_PropagatesErrors(t *testing.T) {
	e, r := newTestEngine()
	r.err = queue.ErrNotFound

	out, err := e.Execute(context.Background(), "acme", Confirm{AppointmentID: "ghost"})
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.Nil(t, out)
}

func TestExecute_RequiresTenantAndCommand(t *testing.T) {
	e, r := newTestEngine()

	_, err := e.Execute(context.Background(), "", Locate{AppointmentID: "A"})
	assert.ErrorIs(t, err, ErrMissingTenant)
	assert.Empty(t, r.calls)

	_, err = e.Execute(context.Background(), "acme", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
