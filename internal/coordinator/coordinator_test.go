package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/ride-sync/internal/cache"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/rooms"
	"github.com/example/ride-sync/internal/storage"
)

type sentFrame struct {
	SID     string // unicast target, empty for room broadcasts
	Room    string
	Event   string
	Data    any
	Exclude string
}

// fakeRouter records every emit instead of delivering it.
type fakeRouter struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (f *fakeRouter) ToRoom(ctx context.Context, room, event string, data any, excludeSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{Room: room, Event: event, Data: data, Exclude: excludeSID})
	return nil
}

func (f *fakeRouter) ToConn(sid, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{SID: sid, Event: event, Data: data})
	return nil
}

func (f *fakeRouter) byEvent(event string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentFrame
	for _, fr := range f.frames {
		if fr.Event == event {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeRouter) all() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.frames...)
}

// downLocations simulates an unreachable cache.
type downLocations struct{}

var errCacheDown = errors.New("cache down")

func (downLocations) Set(ctx context.Context, rideCode, userName string, p models.Position) error {
	return errCacheDown
}
func (downLocations) Get(ctx context.Context, rideCode, userName string) (models.Position, bool, error) {
	return models.Position{}, false, errCacheDown
}
func (downLocations) All(ctx context.Context, rideCode string) (map[string]models.Position, error) {
	return nil, errCacheDown
}
func (downLocations) Remove(ctx context.Context, rideCode, userName string) error {
	return errCacheDown
}
func (downLocations) Count(ctx context.Context, rideCode string) (int64, error) {
	return 0, errCacheDown
}
func (downLocations) Drop(ctx context.Context, rideCode string) error { return errCacheDown }

func newTestCoordinator(loc cache.Locations) (*Coordinator, *fakeRouter) {
	router := &fakeRouter{}
	c := &Coordinator{
		Store:     storage.NewMemoryStore(),
		Locations: loc,
		Rooms:     rooms.NewRegistry(),
		Router:    router,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return c, router
}

func fptr(v float64) *float64 { return &v }

func TestJoinSnapshotExcludesSelf(t *testing.T) {
	loc := cache.NewMemoryLocations()
	ctx := context.Background()
	_ = loc.Set(ctx, "ABCD", "alice", models.Position{Latitude: 1, Longitude: 2})
	_ = loc.Set(ctx, "ABCD", "bob", models.Position{Latitude: 3, Longitude: 4})
	c, router := newTestCoordinator(loc)

	c.HandleJoin(ctx, "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})

	snaps := router.byEvent(models.EventInitialCoRider)
	if len(snaps) != 1 || snaps[0].SID != "s-bob" {
		t.Fatalf("expected one snapshot unicast to joiner, got %+v", snaps)
	}
	snap := snaps[0].Data.(models.CoRiderSnapshot)
	if len(snap.CoRiders) != 1 || snap.CoRiders[0].UserName != "alice" {
		t.Fatalf("joiner must not appear in its own snapshot: %+v", snap.CoRiders)
	}
}

func TestJoinOrderingSnapshotBeforePeerNotification(t *testing.T) {
	loc := cache.NewMemoryLocations()
	ctx := context.Background()
	_ = loc.Set(ctx, "ABCD", "alice", models.Position{Latitude: 1, Longitude: 2})
	c, router := newTestCoordinator(loc)

	c.HandleJoin(ctx, "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})

	var order []string
	for _, fr := range router.all() {
		order = append(order, fr.Event)
	}
	want := []string{models.EventInitialCoRider, models.EventJoinSuccess, models.EventUserJoined}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	joined := router.byEvent(models.EventUserJoined)[0]
	if joined.Exclude != "s-bob" {
		t.Fatalf("join notification must exclude the joiner, got exclude=%q", joined.Exclude)
	}
}

func TestJoinEmptyRideSkipsSnapshot(t *testing.T) {
	c, router := newTestCoordinator(cache.NewMemoryLocations())

	c.HandleJoin(context.Background(), "s-dave", models.JoinRequest{UserName: "dave", RideCode: "ABCD"})

	if snaps := router.byEvent(models.EventInitialCoRider); len(snaps) != 0 {
		t.Fatalf("empty ride must not produce a snapshot: %+v", snaps)
	}
	if acks := router.byEvent(models.EventJoinSuccess); len(acks) != 1 {
		t.Fatalf("join must still be acknowledged: %+v", acks)
	}
}

func TestJoinCarriesPendingCoordinateWhenUnknown(t *testing.T) {
	c, router := newTestCoordinator(cache.NewMemoryLocations())

	c.HandleJoin(context.Background(), "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})

	joined := router.byEvent(models.EventUserJoined)[0].Data.(models.UserJoined)
	if joined.Latitude != nil || joined.Longitude != nil {
		t.Fatalf("unknown position must be pending, got %+v", joined)
	}
	if joined.UserName != "bob" {
		t.Fatalf("join notification must carry the joiner name: %+v", joined)
	}
}

func TestJoinCarriesSeededCoordinate(t *testing.T) {
	loc := cache.NewMemoryLocations()
	ctx := context.Background()
	_ = loc.Set(ctx, "ABCD", "bob", models.Position{Latitude: 7, Longitude: 8})
	c, router := newTestCoordinator(loc)

	c.HandleJoin(ctx, "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})

	joined := router.byEvent(models.EventUserJoined)[0].Data.(models.UserJoined)
	if joined.Latitude == nil || *joined.Latitude != 7 || *joined.Longitude != 8 {
		t.Fatalf("expected seeded coordinate on join notification, got %+v", joined)
	}
}

func TestJoinMissingFieldsRejectedWithoutStateChange(t *testing.T) {
	c, router := newTestCoordinator(cache.NewMemoryLocations())

	c.HandleJoin(context.Background(), "s1", models.JoinRequest{UserName: "bob"})

	if errs := router.byEvent(models.EventError); len(errs) != 1 || errs[0].SID != "s1" {
		t.Fatalf("expected one error unicast to sender, got %+v", errs)
	}
	if len(router.all()) != 1 {
		t.Fatalf("nothing else may be emitted: %+v", router.all())
	}
	if _, ok := c.Rooms.Session("s1"); ok {
		t.Fatal("invalid join must not register membership")
	}
}

func TestJoinSucceedsWithCacheDown(t *testing.T) {
	c, router := newTestCoordinator(downLocations{})

	c.HandleJoin(context.Background(), "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})

	if acks := router.byEvent(models.EventJoinSuccess); len(acks) != 1 {
		t.Fatalf("join must succeed with cache down: %+v", router.all())
	}
	if snaps := router.byEvent(models.EventInitialCoRider); len(snaps) != 0 {
		t.Fatalf("snapshot must be empty with cache down: %+v", snaps)
	}
	if _, ok := c.Rooms.Session("s-bob"); !ok {
		t.Fatal("membership must still be registered")
	}
}

func TestUpdateLastWriteWinsAndNoEcho(t *testing.T) {
	loc := cache.NewMemoryLocations()
	c, router := newTestCoordinator(loc)
	ctx := context.Background()
	c.Rooms.Join("ABCD", "s-bob", "bob")
	c.Rooms.Join("ABCD", "s-carol", "carol")

	c.HandleLocationUpdate(ctx, "s-bob", models.LocationUpdate{
		UserName: "bob", RideCode: "ABCD", Latitude: fptr(1), Longitude: fptr(1)})
	c.HandleLocationUpdate(ctx, "s-bob", models.LocationUpdate{
		UserName: "bob", RideCode: "ABCD", Latitude: fptr(10), Longitude: fptr(20)})

	p, ok, _ := loc.Get(ctx, "ABCD", "bob")
	if !ok || p.Latitude != 10 || p.Longitude != 20 {
		t.Fatalf("cache must hold the last write, got %+v ok=%v", p, ok)
	}
	ups := router.byEvent(models.EventServerLocation)
	if len(ups) != 2 {
		t.Fatalf("expected 2 broadcasts, got %+v", ups)
	}
	for _, u := range ups {
		if u.Exclude != "s-bob" {
			t.Fatalf("sender must be excluded from its own update: %+v", u)
		}
	}
	last := ups[1].Data.(models.ServerLocation)
	if last.UserName != "bob" || last.Latitude != 10 || last.Longitude != 20 {
		t.Fatalf("unexpected broadcast payload: %+v", last)
	}
}

func TestUpdateMissingCoordinateRejected(t *testing.T) {
	c, router := newTestCoordinator(cache.NewMemoryLocations())

	c.HandleLocationUpdate(context.Background(), "s1", models.LocationUpdate{
		UserName: "bob", RideCode: "ABCD", Latitude: fptr(1)})

	if errs := router.byEvent(models.EventError); len(errs) != 1 {
		t.Fatalf("invalid update must be rejected loudly: %+v", router.all())
	}
	if ups := router.byEvent(models.EventServerLocation); len(ups) != 0 {
		t.Fatalf("invalid update must not broadcast: %+v", ups)
	}
}

func TestUpdateFailsLoudlyWithCacheDown(t *testing.T) {
	c, router := newTestCoordinator(downLocations{})

	c.HandleLocationUpdate(context.Background(), "s1", models.LocationUpdate{
		UserName: "bob", RideCode: "ABCD", Latitude: fptr(1), Longitude: fptr(2)})

	errs := router.byEvent(models.EventError)
	if len(errs) != 1 || errs[0].SID != "s1" {
		t.Fatalf("sender must be told the service is unavailable: %+v", router.all())
	}
	if ups := router.byEvent(models.EventServerLocation); len(ups) != 0 {
		t.Fatalf("no broadcast may follow a failed cache write: %+v", ups)
	}
}

func TestLeaveRemovesEntryAndDropsEmptyRide(t *testing.T) {
	loc := cache.NewMemoryLocations()
	c, router := newTestCoordinator(loc)
	ctx := context.Background()
	c.Rooms.Join("ABCD", "s-bob", "bob")
	_ = loc.Set(ctx, "ABCD", "bob", models.Position{Latitude: 1, Longitude: 2})

	c.HandleLeave(ctx, "s-bob", models.LeaveRequest{UserName: "bob", RideCode: "ABCD"})

	if n, _ := loc.Count(ctx, "ABCD"); n != 0 {
		t.Fatalf("last leave must empty the ride, got %d entries", n)
	}
	all, _ := loc.All(ctx, "ABCD")
	if len(all) != 0 {
		t.Fatalf("expected no leaked entries: %v", all)
	}
	left := router.byEvent(models.EventUserLeft)
	if len(left) != 1 || left[0].Exclude != "s-bob" {
		t.Fatalf("remaining members must be notified without echo: %+v", left)
	}
	if _, ok := c.Rooms.Session("s-bob"); ok {
		t.Fatal("membership must be removed on leave")
	}
}

func TestLeaveKeepsRideWithRemainingRiders(t *testing.T) {
	loc := cache.NewMemoryLocations()
	c, _ := newTestCoordinator(loc)
	ctx := context.Background()
	_ = loc.Set(ctx, "ABCD", "alice", models.Position{Latitude: 1, Longitude: 1})
	_ = loc.Set(ctx, "ABCD", "bob", models.Position{Latitude: 2, Longitude: 2})
	c.Rooms.Join("ABCD", "s-bob", "bob")

	c.HandleLeave(ctx, "s-bob", models.LeaveRequest{UserName: "bob", RideCode: "ABCD"})

	if n, _ := loc.Count(ctx, "ABCD"); n != 1 {
		t.Fatalf("other riders' entries must survive, got %d", n)
	}
}

func TestLeaveProceedsWithCacheDown(t *testing.T) {
	c, router := newTestCoordinator(downLocations{})
	c.Rooms.Join("ABCD", "s-bob", "bob")

	c.HandleLeave(context.Background(), "s-bob", models.LeaveRequest{UserName: "bob", RideCode: "ABCD"})

	if _, ok := c.Rooms.Session("s-bob"); ok {
		t.Fatal("membership cleanup must not depend on the cache")
	}
	if left := router.byEvent(models.EventUserLeft); len(left) != 1 {
		t.Fatalf("leave must still be broadcast: %+v", router.all())
	}
}

func TestDisconnectRunsImplicitLeave(t *testing.T) {
	loc := cache.NewMemoryLocations()
	c, router := newTestCoordinator(loc)
	ctx := context.Background()
	c.HandleJoin(ctx, "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})
	_ = loc.Set(ctx, "ABCD", "bob", models.Position{Latitude: 1, Longitude: 2})

	c.HandleDisconnect(ctx, "s-bob")

	if _, ok := c.Rooms.Session("s-bob"); ok {
		t.Fatal("disconnect must drop the session")
	}
	if n, _ := loc.Count(ctx, "ABCD"); n != 0 {
		t.Fatalf("disconnect must prune the cache entry, got %d", n)
	}
	if left := router.byEvent(models.EventUserLeft); len(left) != 1 {
		t.Fatalf("disconnect must notify the room: %+v", router.all())
	}
	// A second disconnect for the same sid is a no-op.
	before := len(router.all())
	c.HandleDisconnect(ctx, "s-bob")
	if len(router.all()) != before {
		t.Fatal("repeated disconnect must not re-broadcast")
	}
}

func TestDisconnectCleansUpAfterStaleLeave(t *testing.T) {
	loc := cache.NewMemoryLocations()
	c, _ := newTestCoordinator(loc)
	ctx := context.Background()
	c.HandleJoin(ctx, "s-bob", models.JoinRequest{UserName: "bob", RideCode: "ABCD"})
	_ = loc.Set(ctx, "ABCD", "bob", models.Position{Latitude: 1, Longitude: 2})

	// A leave naming a room bob never joined is a no-op and must not
	// forget which room the connection is in.
	c.HandleLeave(ctx, "s-bob", models.LeaveRequest{UserName: "bob", RideCode: "WXYZ"})

	if s, ok := c.Rooms.Session("s-bob"); !ok || s.RideCode != "ABCD" {
		t.Fatalf("session must survive a stale leave: %+v ok=%v", s, ok)
	}

	c.HandleDisconnect(ctx, "s-bob")

	if members := c.Rooms.Members("ABCD"); len(members) != 0 {
		t.Fatalf("disconnect must empty the room, got %v", members)
	}
	if n, _ := loc.Count(ctx, "ABCD"); n != 0 {
		t.Fatalf("disconnect must prune the cache entry, got %d", n)
	}
}

type captureUpdates struct {
	mu   sync.Mutex
	ups  []models.LocationUpdate
	fail bool
}

func (p *captureUpdates) PublishLocation(ctx context.Context, up models.LocationUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.ups = append(p.ups, up)
	return nil
}

func TestUpdatePublishesToFirehose(t *testing.T) {
	c, router := newTestCoordinator(cache.NewMemoryLocations())
	pub := &captureUpdates{}
	c.Firehose = pub

	c.HandleLocationUpdate(context.Background(), "s1", models.LocationUpdate{
		UserName: "bob", RideCode: "ABCD", Latitude: fptr(1), Longitude: fptr(2)})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.ups) != 1 || pub.ups[0].UserName != "bob" {
		t.Fatalf("update must reach the firehose: %+v", pub.ups)
	}
	if len(router.byEvent(models.EventServerLocation)) != 1 {
		t.Fatal("broadcast must still happen")
	}
}

func TestFirehoseFailureDoesNotBlockBroadcast(t *testing.T) {
	c, router := newTestCoordinator(cache.NewMemoryLocations())
	c.Firehose = &captureUpdates{fail: true}

	c.HandleLocationUpdate(context.Background(), "s1", models.LocationUpdate{
		UserName: "bob", RideCode: "ABCD", Latitude: fptr(1), Longitude: fptr(2)})

	if len(router.byEvent(models.EventServerLocation)) != 1 {
		t.Fatalf("firehose failure must not block delivery: %+v", router.all())
	}
	if len(router.byEvent(models.EventError)) != 0 {
		t.Fatal("firehose failure is not user-visible")
	}
}
