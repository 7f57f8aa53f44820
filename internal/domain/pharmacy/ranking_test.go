package pharmacy

import "testing"

func TestRankByQueueSize(t *testing.T) {
	// The classic selection scenario: A has queue 20, B has queue 3 and a
	// pincode match, C has queue 10. Least-loaded wins outright.
	a := &Pharmacy{ID: "A", CurrentQueueSize: 20, Pincode: "560001"}
	b := &Pharmacy{ID: "B", CurrentQueueSize: 3, Pincode: "560034"}
	c := &Pharmacy{ID: "C", CurrentQueueSize: 10, Pincode: "560001"}

	ranked := Rank([]*Pharmacy{a, b, c}, "560034")
	if ranked[0].ID != "B" || ranked[1].ID != "C" || ranked[2].ID != "A" {
		t.Fatalf("rank order = %s, %s, %s; want B, C, A", ranked[0].ID, ranked[1].ID, ranked[2].ID)
	}
}

func TestRankPincodeBreaksTies(t *testing.T) {
	far := &Pharmacy{ID: "far", CurrentQueueSize: 5, Pincode: "110001"}
	local := &Pharmacy{ID: "local", CurrentQueueSize: 5, Pincode: "560034"}

	ranked := Rank([]*Pharmacy{far, local}, "560034")
	if ranked[0].ID != "local" {
		t.Fatalf("ranked[0] = %s, want local (pincode tiebreak)", ranked[0].ID)
	}

	// A pincode match never outranks a shorter queue.
	ranked = Rank([]*Pharmacy{{ID: "busy-local", CurrentQueueSize: 9, Pincode: "560034"}, {ID: "idle-far", CurrentQueueSize: 2, Pincode: "110001"}}, "560034")
	if ranked[0].ID != "idle-far" {
		t.Fatalf("ranked[0] = %s, want idle-far (queue beats pincode)", ranked[0].ID)
	}
}

func TestRankIsStable(t *testing.T) {
	p1 := &Pharmacy{ID: "p1", CurrentQueueSize: 4, Pincode: "110001"}
	p2 := &Pharmacy{ID: "p2", CurrentQueueSize: 4, Pincode: "110002"}
	p3 := &Pharmacy{ID: "p3", CurrentQueueSize: 4, Pincode: "110003"}

	ranked := Rank([]*Pharmacy{p1, p2, p3}, "999999")
	for i, want := range []string{"p1", "p2", "p3"} {
		if ranked[i].ID != want {
			t.Fatalf("ranked[%d] = %s, want %s (stable order)", i, ranked[i].ID, want)
		}
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	a := &Pharmacy{ID: "a", CurrentQueueSize: 9}
	b := &Pharmacy{ID: "b", CurrentQueueSize: 1}
	in := []*Pharmacy{a, b}
	Rank(in, "")
	if in[0].ID != "a" || in[1].ID != "b" {
		t.Fatal("Rank mutated its input slice")
	}
}
