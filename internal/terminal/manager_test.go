package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okulab/termgate/internal/proc"
)

// fakeSpawner hands out fakeHandles, or fails every spawn when failWith is set.
type fakeSpawner struct {
	mu       sync.Mutex
	spawned  []*fakeHandle
	failWith error
}

func (f *fakeSpawner) Spawn(ctx context.Context, spec proc.ShellSpec, cols, rows uint16) (proc.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	h := newFakeHandle()
	f.spawned = append(f.spawned, h)
	return h, nil
}

func newTestManager(spawner proc.Spawner) *Manager {
	cfg := DefaultManagerConfig()
	cfg.StartupCleanup = false
	return NewManager(spawner, nil, nil, cfg, nil)
}

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	mgr := newTestManager(&fakeSpawner{})

	sess, err := mgr.Create(context.Background(), CreateRequest{Name: "alpha"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer sess.Terminate()

	byID, err := mgr.Get(sess.ID())
	if err != nil || byID != sess {
		t.Errorf("Get by id: (%v, %v), want the created session", byID, err)
	}
	byName, err := mgr.Get("alpha")
	if err != nil || byName != sess {
		t.Errorf("Get by name: (%v, %v), want the created session", byName, err)
	}
	if _, err := mgr.Get("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrNotFound", err)
	}
}

func TestManagerDefaultName(t *testing.T) {
	t.Parallel()
	mgr := newTestManager(&fakeSpawner{})

	sess, err := mgr.Create(context.Background(), CreateRequest{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer sess.Terminate()

	want := "session-" + sess.ID()[:8]
	if sess.Name() != want {
		t.Errorf("default name = %q, want %q", sess.Name(), want)
	}
}

func TestManagerConcurrentCreates(t *testing.T) {
	t.Parallel()
	mgr := newTestManager(&fakeSpawner{})

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := mgr.Create(context.Background(), CreateRequest{Name: fmt.Sprintf("s-%d", i)})
			if err != nil {
				t.Errorf("Create %d: %v", i, err)
				return
			}
			ids <- sess.ID()
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("created %d distinct sessions, want %d", len(seen), n)
	}
	if got := len(mgr.List()); got != n {
		t.Errorf("List() has %d sessions, want %d", got, n)
	}

	mgr.Shutdown(context.Background())
}

func TestManagerListSorted(t *testing.T) {
	t.Parallel()
	mgr := newTestManager(&fakeSpawner{})
	defer mgr.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		if _, err := mgr.Create(context.Background(), CreateRequest{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	infos := mgr.List()
	for i := 1; i < len(infos); i++ {
		prev, cur := infos[i-1], infos[i]
		if cur.CreatedAt.Before(prev.CreatedAt) {
			t.Errorf("List not ordered by creation time at index %d", i)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID < prev.ID {
			t.Errorf("List tie not broken by id at index %d", i)
		}
	}
}

func TestManagerDestroy(t *testing.T) {
	t.Parallel()
	mgr := newTestManager(&fakeSpawner{})

	sess, err := mgr.Create(context.Background(), CreateRequest{Name: "victim"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := mgr.Destroy(context.Background(), sess.ID()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	select {
	case <-sess.Done():
	default:
		t.Error("destroyed session should be terminated")
	}
	if _, err := mgr.Get(sess.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after destroy: err = %v, want ErrNotFound", err)
	}

	if err := mgr.Destroy(context.Background(), "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Destroy unknown: err = %v, want ErrNotFound", err)
	}
	if got := len(mgr.List()); got != 0 {
		t.Errorf("registry has %d sessions after destroy, want 0", got)
	}
}

func TestManagerSpawnFailure(t *testing.T) {
	t.Parallel()
	spawnErr := fmt.Errorf("%w: no such distro", proc.ErrSpawnFailed)
	mgr := newTestManager(&fakeSpawner{failWith: spawnErr})

	sess, err := mgr.Create(context.Background(), CreateRequest{Name: "doomed"})
	if !errors.Is(err, proc.ErrSpawnFailed) {
		t.Fatalf("Create: err = %v, want ErrSpawnFailed", err)
	}
	if sess == nil {
		t.Fatal("failed create should still return the session")
	}
	if sess.Info().Alive() {
		t.Errorf("state = %s, want a dead state", sess.State())
	}

	got, getErr := mgr.Get("doomed")
	if getErr != nil || got != sess {
		t.Errorf("failed session not registered: (%v, %v)", got, getErr)
	}
}

func TestManagerShutdown(t *testing.T) {
	t.Parallel()
	mgr := newTestManager(&fakeSpawner{})

	var sessions []*Session
	for i := 0; i < 3; i++ {
		sess, err := mgr.Create(context.Background(), CreateRequest{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		sessions = append(sessions, sess)
	}

	mgr.Shutdown(context.Background())

	if got := len(mgr.List()); got != 0 {
		t.Errorf("List() has %d sessions after shutdown, want 0", got)
	}
	for _, sess := range sessions {
		select {
		case <-sess.Done():
		default:
			t.Errorf("session %s still alive after shutdown", sess.ID())
		}
	}
}
