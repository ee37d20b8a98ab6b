package kernel

import (
	"reflect"
	"testing"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/intr"
	"github.com/me/kthreads/pkg/model"
)

func names(ts []*Thread) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.name
	}
	return out
}

func TestQueue_InsertOrderedIsStable(t *testing.T) {
	k := New(config.DefaultKernelConfig(), intr.New(nil), nil)
	q := k.NewQueue("test")

	for _, tt := range []struct {
		name string
		pri  int
	}{
		{"a", 10}, {"b", 20}, {"c", 10}, {"d", 30}, {"e", 20},
	} {
		q.InsertOrdered(k.newThread(tt.name, tt.pri), HigherPriority)
	}

	want := []string{"d", "b", "e", "a", "c"}
	if got := names(q.Threads()); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if q.Len() != 5 || q.Front().name != "d" {
		t.Errorf("Len() = %d, Front() = %q", q.Len(), q.Front().name)
	}
}

func TestQueue_PopHighestKeepsArrivalOrder(t *testing.T) {
	k := New(config.DefaultKernelConfig(), intr.New(nil), nil)
	q := k.NewQueue("ready")
	for _, name := range []string{"x", "y", "z"} {
		q.PushBack(k.newThread(name, PriDefault))
	}
	boosted := k.newThread("late", PriDefault+1)
	q.PushBack(boosted)

	var got []string
	for !q.Empty() {
		got = append(got, q.PopHighest().name)
	}
	if want := []string{"late", "x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Errorf("pop order = %v, want %v", got, want)
	}
	if boosted.queue != nil {
		t.Error("popped thread still linked")
	}
	if q.PopHighest() != nil || q.PopFront() != nil || q.Highest() != nil {
		t.Error("empty queue returned a thread")
	}
}

func TestQueue_RemoveAndSort(t *testing.T) {
	k := New(config.DefaultKernelConfig(), intr.New(nil), nil)
	q := k.NewQueue("sleep")
	a := k.newThread("a", 1)
	b := k.newThread("b", 1)
	c := k.newThread("c", 1)
	a.wakeupTick, b.wakeupTick, c.wakeupTick = 30, 10, 20
	q.PushBack(a)
	q.PushBack(b)
	q.PushBack(c)

	q.Sort(EarlierWakeup)
	if got := names(q.Threads()); !reflect.DeepEqual(got, []string{"b", "c", "a"}) {
		t.Errorf("sorted = %v", got)
	}
	if !q.Remove(c) || q.Remove(c) {
		t.Error("Remove should succeed exactly once")
	}
	if got := q.PopFront(); got != b {
		t.Errorf("PopFront() = %q, want b", got.name)
	}
}

func TestQueue_DoubleLinkFaults(t *testing.T) {
	k := New(config.DefaultKernelConfig(), intr.New(nil), nil)
	q1 := k.NewQueue("one")
	q2 := k.NewQueue("two")
	th := k.newThread("t", 1)
	q1.PushBack(th)
	expectFault(t, model.FaultInvariant, func() { q2.PushBack(th) })
}
