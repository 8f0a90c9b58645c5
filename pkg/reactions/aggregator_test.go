package reactions

import (
	"reflect"
	"sync"
	"testing"

	"github.com/talentloop/convo/pkg/model"
)

func TestAddIsIdempotent(t *testing.T) {
	a := NewAggregator()

	if !a.Add(1, "u1", "👍") {
		t.Fatal("first add should report a change")
	}
	if a.Add(1, "u1", "👍") {
		t.Fatal("duplicate add should be a no-op")
	}

	groups := a.Groups(1, "u1")
	if len(groups) != 1 || groups[0].Count != 1 {
		t.Fatalf("groups = %+v, want one 👍 with count 1", groups)
	}
	if !groups[0].HasReacted {
		t.Fatal("viewer reacted, HasReacted should be true")
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	a := NewAggregator()

	if a.Remove(1, "u1", "👍") {
		t.Fatal("removing a non-member should be a no-op")
	}

	a.Add(1, "u1", "👍")
	a.Add(1, "u2", "👍")
	if !a.Remove(1, "u1", "👍") {
		t.Fatal("removing a member should report a change")
	}

	groups := a.Groups(1, "u1")
	if len(groups) != 1 || groups[0].Count != 1 || groups[0].HasReacted {
		t.Fatalf("groups = %+v, want 👍 count 1 without viewer", groups)
	}
}

func TestCountAlwaysMatchesUsers(t *testing.T) {
	a := NewAggregator()
	a.Add(7, "u1", "🎉")
	a.Add(7, "u2", "🎉")
	a.Add(7, "u3", "🎉")
	a.Remove(7, "u2", "🎉")

	groups := a.Groups(7, "u9")
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	g := groups[0]
	if g.Count != len(g.Users) {
		t.Fatalf("count %d != len(users) %d", g.Count, len(g.Users))
	}
	if !reflect.DeepEqual(g.Users, []string{"u1", "u3"}) {
		t.Fatalf("users = %v", g.Users)
	}
}

func TestConcurrentAddsFromManyUsers(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	for _, u := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// Each user double-taps; set semantics must absorb it.
			a.Add(42, id, "👍")
			a.Add(42, id, "👍")
		}(u)
	}
	wg.Wait()

	groups := a.Groups(42, "u1")
	if len(groups) != 1 || groups[0].Count != len(users) {
		t.Fatalf("groups = %+v, want 👍 count %d", groups, len(users))
	}
}

func TestApplyDelta(t *testing.T) {
	a := NewAggregator()

	groups := a.Apply(model.ReactionDelta{
		MessageID: 3, Emoji: "❤️", UserID: "u2", Op: model.ReactionAdded,
	}, "u1")
	if len(groups) != 1 || groups[0].HasReacted {
		t.Fatalf("groups = %+v", groups)
	}

	groups = a.Apply(model.ReactionDelta{
		MessageID: 3, Emoji: "❤️", UserID: "u2", Op: model.ReactionRemoved,
	}, "u1")
	if len(groups) != 0 {
		t.Fatalf("groups = %+v after removal, want empty", groups)
	}
}

func TestSeedReplacesState(t *testing.T) {
	a := NewAggregator()
	a.Add(5, "stale", "👍")

	a.Seed(5, []model.MessageReaction{{Emoji: "🎉", Users: []string{"u1", "u2"}}})

	groups := a.Groups(5, "u2")
	if len(groups) != 1 || groups[0].Emoji != "🎉" || groups[0].Count != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if !groups[0].HasReacted {
		t.Fatal("seeded viewer membership lost")
	}
}
