package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/oclean/internal/protocol"
	"github.com/srg/oclean/internal/reconcile"
	"github.com/srg/oclean/internal/schedule"
	"github.com/srg/oclean/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

var (
	testNow    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	newestAt   = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	previousAt = time.Date(2026, 2, 28, 21, 30, 0, 0, time.UTC)
)

type recordingSink struct {
	reports []telemetry.Report
	err     error
}

func (s *recordingSink) Publish(_ context.Context, r telemetry.Report) error {
	s.reports = append(s.reports, r)
	return s.err
}

type fixture struct {
	link      *fakeLink
	transport *fakeTransport
	store     *memStore
	sink      *recordingSink
	poller    *Poller
}

func newFixture(t *testing.T, device Device, pages ...[]byte) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	device.Address = testAddress
	f := &fixture{
		link:  newFakeLink(testAddress, pages...),
		store: newMemStore(),
		sink:  &recordingSink{},
	}
	f.transport = &fakeTransport{link: f.link}
	f.poller = New(device, f.transport, f.store, f.sink, fastOptions(testNow), logger)
	return f
}

func TestPoll_FirstCycleCollectsHistory(t *testing.T) {
	// GOAL: Verify a first cycle pages through history and publishes every session
	//
	// TEST SCENARIO: Two pages of history, empty state → both sessions are new, newest drives the snapshot

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76), extendedPage(previousAt, 70, 42))

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err, "first poll MUST succeed")
	assert.False(t, res.Skipped(), "poll MUST NOT be skipped without windows or cooldown")

	require.Len(t, res.NewSessions, 2, "both history pages MUST be reported as new sessions")
	assert.Equal(t, previousAt.Unix(), res.NewSessions[0].Time, "new sessions MUST be ordered oldest first")
	assert.Equal(t, newestAt.Unix(), res.NewSessions[1].Time)

	snap := res.Snapshot
	assert.True(t, snap.Ready(), "snapshot MUST be ready after a successful cycle")
	assert.False(t, snap.Stale)
	assert.Equal(t, newestAt.Unix(), snap.Fields[protocol.KeyLastTime], "newest session MUST drive last_brush_time")
	assert.Equal(t, 90, snap.Fields[protocol.KeyLastScore])
	assert.Equal(t, 76, snap.Fields[protocol.KeyLastPnum])
	assert.Equal(t, 85, snap.Fields[protocol.KeyBattery], "battery characteristic MUST win over the status response")
	assert.Equal(t, "Oclean X", snap.Fields[protocol.KeyModelID], "DIS strings MUST be trimmed")
	assert.Equal(t, "1.0.3", snap.Fields[protocol.KeySWVersion])
	assert.Equal(t, 2, snap.Fields[protocol.KeyBrushHeadUsage], "software counter MUST count new sessions")
	assert.Equal(t, testNow, snap.UpdatedAt)

	state := f.poller.State()
	assert.Equal(t, reconcile.State{LastSessionTS: newestAt.Unix(), BrushHeadCount: 2}, state)
	assert.Equal(t, 1, f.store.Saves(), "changed state MUST be saved once")

	assert.Equal(t, 1, f.link.count(protocol.WriteUUID, protocol.CmdCalibrateTimePrefix), "clock MUST be calibrated")
	assert.Equal(t, 1, f.link.count(protocol.WriteUUID, protocol.CmdQueryStatus))
	assert.Equal(t, 1, f.link.count(protocol.WriteUUID, protocol.CmdQueryRunningData))
	assert.Equal(t, 1, f.link.count(protocol.SendBrushCmdUUID, protocol.CmdQueryRunningDataT1), "type 1 query MUST go to the command channel")
	assert.Equal(t, 2, f.link.count(protocol.WriteUUID, protocol.CmdQueryRunningNext), "pagination MUST stop at the first empty page")
	assert.True(t, f.link.closed, "link MUST be released after the cycle")

	require.Len(t, f.sink.reports, 1, "cycle MUST publish one report")
	assert.Equal(t, testAddress, f.sink.reports[0].Device.Address)
	assert.Len(t, f.sink.reports[0].NewSessions, 2)
}

func TestPoll_CalibrationPayload(t *testing.T) {
	// GOAL: Verify the calibration command carries the host clock big-endian

	f := newFixture(t, Device{})
	_, err := f.poller.Poll(context.Background())
	require.NoError(t, err)

	f.link.mu.Lock()
	defer f.link.mu.Unlock()
	require.NotEmpty(t, f.link.writes)
	first := f.link.writes[0]
	ts := uint32(testNow.Unix())
	assert.Equal(t, protocol.WriteUUID, first.uuid, "calibration MUST be the first write")
	assert.Equal(t, []byte{0x02, 0x0E, byte(ts >> 24), byte(ts >> 16), byte(ts >> 8), byte(ts)}, first.data)
}

func TestPoll_SecondCycleStopsAtWatermark(t *testing.T) {
	// GOAL: Verify known sessions are neither paged again nor counted twice
	//
	// TEST SCENARIO: Same device history polled twice → second cycle sends no 0309 and keeps counters

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76), extendedPage(previousAt, 70, 42))

	_, err := f.poller.Poll(context.Background())
	require.NoError(t, err)
	pagesBefore := f.link.count(protocol.WriteUUID, protocol.CmdQueryRunningNext)

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.NewSessions, "already published sessions MUST NOT be reported again")
	assert.Equal(t, pagesBefore, f.link.count(protocol.WriteUUID, protocol.CmdQueryRunningNext), "pagination MUST stop at the watermark")
	assert.Equal(t, 2, res.Snapshot.Fields[protocol.KeyBrushHeadUsage], "head counter MUST NOT grow without new sessions")
	assert.Equal(t, 1, f.store.Saves(), "unchanged state MUST NOT be saved")
	assert.Equal(t, 1, f.link.readCount(protocol.DISModelUUID), "fresh DIS values MUST be reused")
	assert.Equal(t, "Oclean X", res.Snapshot.Fields[protocol.KeyModelID], "cached DIS values MUST stay in the snapshot")
}

func TestPoll_LoadedWatermark(t *testing.T) {
	// GOAL: Verify a persisted watermark survives restarts

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76))
	f.store.state[testAddress] = reconcile.State{LastSessionTS: newestAt.Unix(), BrushHeadCount: 7}

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.NewSessions, "session at the persisted watermark MUST NOT be new")
	assert.Equal(t, newestAt.Unix(), res.Snapshot.Fields[protocol.KeyLastTime], "known session MUST still populate the snapshot")
	assert.Equal(t, 7, res.Snapshot.Fields[protocol.KeyBrushHeadUsage], "persisted counter MUST be surfaced")
}

func TestPoll_LoadFailureStartsFresh(t *testing.T) {
	// GOAL: Verify unreadable state is replaced by fresh state instead of failing the cycle

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76))
	f.store.err = errors.New("corrupt")

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err, "load failure MUST NOT fail the poll")
	assert.Len(t, res.NewSessions, 1)
}

func TestPoll_UnreachableWithoutSnapshot(t *testing.T) {
	// GOAL: Verify a failed first cycle reports not-ready after all attempts

	f := newFixture(t, Device{})
	f.transport.fail(errors.New("timeout"))

	_, err := f.poller.Poll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady, "no snapshot MUST yield ErrNotReady")
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
	assert.Equal(t, 3, f.transport.Attempts(), "connect MUST be attempted ConnectAttempts times")
}

func TestPoll_StaleOnFailure(t *testing.T) {
	// GOAL: Verify a failed cycle serves the previous snapshot marked stale

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76))
	first, err := f.poller.Poll(context.Background())
	require.NoError(t, err)

	f.transport.fail(errors.New("out of range"))
	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err, "stale data MUST be served instead of an error")

	assert.True(t, res.Snapshot.Stale, "snapshot MUST be flagged stale")
	assert.Equal(t, first.Snapshot.Fields, res.Snapshot.Fields, "stale snapshot MUST keep the previous values")
	assert.Equal(t, first.Snapshot.UpdatedAt, res.Snapshot.UpdatedAt)

	f.transport.fail(nil)
	res, err = f.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Snapshot.Stale, "successful cycle MUST clear the stale flag")
}

func TestPoll_CooldownSkipsConnection(t *testing.T) {
	// GOAL: Verify a new session starts the post-brush cooldown
	//
	// TEST SCENARIO: Cooldown of 1h → second poll at the same instant is skipped without connecting

	f := newFixture(t, Device{Cooldown: time.Hour}, extendedPage(newestAt, 90, 76))

	_, err := f.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), f.poller.State().CooldownUntil)

	attempts := f.transport.Attempts()
	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped(), "poll inside the cooldown MUST be skipped")
	assert.Equal(t, schedule.SkipCooldown, res.Decision.Reason)
	assert.Equal(t, time.Hour, res.Decision.Remaining)
	assert.Equal(t, attempts, f.transport.Attempts(), "skipped poll MUST NOT connect")
	assert.True(t, res.Snapshot.Ready(), "skipped poll MUST return the existing snapshot")
}

func TestPoll_OutsideWindows(t *testing.T) {
	// GOAL: Verify poll windows gate connections

	windows := []schedule.Window{{Start: schedule.NewTimeOfDay(20, 0, 0), End: schedule.NewTimeOfDay(22, 0, 0)}}
	f := newFixture(t, Device{Windows: windows})

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err, "skip MUST NOT be an error even without a snapshot")
	assert.True(t, res.Skipped())
	assert.Equal(t, schedule.SkipOutsideWindows, res.Decision.Reason)
	assert.Zero(t, f.transport.Attempts())
	assert.False(t, res.Snapshot.Ready())
}

func TestPoll_WindowsUseConfiguredLocation(t *testing.T) {
	// GOAL: Verify poll windows are read in the configured zone, not the zone of the clock
	//
	// TEST SCENARIO: Window 20:00-22:00, clock at 09:00 UTC → skipped in UTC, polled in UTC+12 where it is 21:00

	windows := []schedule.Window{{Start: schedule.NewTimeOfDay(20, 0, 0), End: schedule.NewTimeOfDay(22, 0, 0)}}
	f := newFixture(t, Device{Windows: windows}, extendedPage(newestAt, 90, 76))

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped(), "09:00 UTC MUST fall outside a 20:00-22:00 window read in UTC")

	opts := fastOptions(testNow)
	opts.Location = time.FixedZone("UTC+12", 12*60*60)
	shifted := New(Device{Address: testAddress, Windows: windows}, f.transport, newMemStore(), nil, opts, logrus.New())

	res, err = shifted.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped(), "09:00 UTC is 21:00 in UTC+12 and MUST be inside the window")
	assert.Equal(t, 1, f.transport.Attempts(), "the in-window poll MUST connect")
}

func TestPoll_HardwareHeadCounter(t *testing.T) {
	// GOAL: Verify a device-reported head usage latches and stops software counting

	simple := []byte{0x03, 0x08,
		26, 3, 1, 8, 0, 0, // 2026-03-01 08:00:00
		0x00, 3, 21, 0, 0, 0, 0, 0,
		12, 0, // 12 blunt teeth
		0x2c, 0x01, // pressure 300
	}
	f := newFixture(t, Device{}, simple)

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, res.Snapshot.Fields[protocol.KeyBrushHeadUsage], "hardware usage MUST be surfaced as is")
	state := f.poller.State()
	assert.True(t, state.BrushHeadHW, "hardware usage MUST latch the hardware flag")
	assert.Zero(t, state.BrushHeadCount, "software counter MUST NOT grow once latched")
}

func TestPoll_WriteFailuresAreTolerated(t *testing.T) {
	// GOAL: Verify a failing pagination write ends history collection without failing the cycle

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76), extendedPage(previousAt, 70, 42))
	f.link.writeErr[string(protocol.CmdQueryRunningNext)] = errors.New("write failed")

	res, err := f.poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.NewSessions, 1, "only the first page MUST be collected")
	assert.Equal(t, 1, f.link.count(protocol.WriteUUID, protocol.CmdQueryRunningNext), "pagination MUST stop after a failed write")
}

func TestPoll_NotifyHookAndSinkError(t *testing.T) {
	// GOAL: Verify raw notifications reach the hook and sink failures are not fatal

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76))
	f.sink.err = errors.New("disk full")

	var seen []string
	f.poller.SetNotifyHook(func(uuid string, data []byte, _ protocol.Fragment) {
		seen = append(seen, protocol.Tag{data[0], data[1]}.String())
	})

	_, err := f.poller.Poll(context.Background())
	require.NoError(t, err, "sink failure MUST NOT fail the poll")
	assert.Contains(t, seen, protocol.TagInfo.String())
	assert.Contains(t, seen, protocol.TagState.String())
}

func TestPoll_Canceled(t *testing.T) {
	// GOAL: Verify cancellation is returned as is, without a stale snapshot

	f := newFixture(t, Device{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.poller.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResetBrushHead(t *testing.T) {
	// GOAL: Verify the reset command is sent and the software counter is zeroed

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76), extendedPage(previousAt, 70, 42))
	_, err := f.poller.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.poller.State().BrushHeadCount)

	require.NoError(t, f.poller.ResetBrushHead(context.Background()))

	assert.Equal(t, 1, f.link.count(protocol.WriteUUID, protocol.CmdClearBrushHead), "reset command MUST be written")
	assert.Zero(t, f.poller.State().BrushHeadCount)
	assert.Equal(t, 0, f.poller.Snapshot().Fields[protocol.KeyBrushHeadUsage], "snapshot MUST show the reset counter")
	assert.Equal(t, 0, f.store.state[testAddress].BrushHeadCount, "reset counter MUST be persisted")
	assert.True(t, f.link.closed)
}

func TestResetBrushHead_WriteFailureKeepsCounter(t *testing.T) {
	// GOAL: Verify the counter survives a rejected reset

	f := newFixture(t, Device{}, extendedPage(newestAt, 90, 76))
	_, err := f.poller.Poll(context.Background())
	require.NoError(t, err)

	f.link.writeErr[string(protocol.CmdClearBrushHead)] = errors.New("rejected")
	err = f.poller.ResetBrushHead(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, f.poller.State().BrushHeadCount, "counter MUST NOT be reset when the device rejected the command")
}

func TestIdentityFresh(t *testing.T) {
	now := testNow
	assert.False(t, identityFresh(time.Time{}, now, time.Hour), "never read MUST NOT be fresh")
	assert.True(t, identityFresh(now.Add(-time.Minute), now, time.Hour))
	assert.False(t, identityFresh(now.Add(-2*time.Hour), now, time.Hour))
}

func TestSignal(t *testing.T) {
	s := newSignal()
	assert.False(t, s.Wait(context.Background(), 5*time.Millisecond), "unset signal MUST time out")

	s.Set()
	s.Set()
	assert.True(t, s.Wait(context.Background(), time.Second), "set signal MUST fire")
	assert.False(t, s.Wait(context.Background(), 5*time.Millisecond), "signal MUST be consumed by Wait")

	s.Set()
	s.Clear()
	assert.False(t, s.Wait(context.Background(), 5*time.Millisecond), "cleared signal MUST NOT fire")
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 10*time.Second, o.ConnectTimeout)
	assert.Equal(t, 3, o.ConnectAttempts)
	assert.Equal(t, 2*time.Second, o.SettleDelay)
	assert.Equal(t, 50, o.MaxPages)
	assert.Equal(t, 24*time.Hour, o.DISRefresh)
	assert.NotNil(t, o.Now)
	assert.Equal(t, time.Local, o.Location, "nil location MUST default to the local zone")
}
