package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/valter-silva-au/context-weave/pkg/models"
	"pgregory.net/rapid"
)

func genAlphaString(t *rapid.T, label string, minLen, maxLen int) string {
	letters := "abcdefghijklmnopqrstuvwxyz-"
	n := rapid.IntRange(minLen, maxLen).Draw(t, label+"Len")
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rapid.IntRange(0, len(letters)-1).Draw(t, label+"Char")]
	}
	return string(b)
}

func genTime(t *rapid.T, label string) time.Time {
	sec := rapid.Int64Range(1_600_000_000, 1_900_000_000).Draw(t, label)
	return time.Unix(sec, 0).UTC()
}

func genRole(t *rapid.T) models.Role {
	return models.ValidRoles[rapid.IntRange(0, len(models.ValidRoles)-1).Draw(t, "roleIdx")]
}

func genIssueType(t *rapid.T) models.IssueType {
	return models.ValidIssueTypes[rapid.IntRange(0, len(models.ValidIssueTypes)-1).Draw(t, "typeIdx")]
}

// TestProperty_StateRoundTrip checks that saving then loading the durable
// record reproduces the same document.
func TestProperty_StateRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "cw-state-*")
		if err != nil {
			t.Fatal(err)
		}
		defer os.RemoveAll(dir)

		store := NewStateStore(dir, nil)
		store.Load()

		nWorktrees := rapid.IntRange(0, 5).Draw(t, "nWorktrees")
		for i := 1; i <= nWorktrees; i++ {
			_ = store.AddWorktree(models.Worktree{
				Issue:     i,
				Branch:    fmt.Sprintf("issue-%d-%s", i, genAlphaString(t, "branch", 1, 20)),
				Path:      "/work/" + fmt.Sprint(i),
				Role:      genRole(t),
				CreatedAt: genTime(t, "created"),
			})
		}
		nIssues := rapid.IntRange(0, 5).Draw(t, "nIssues")
		for i := 0; i < nIssues; i++ {
			store.CreateIssue(genAlphaString(t, "title", 0, 30), genAlphaString(t, "body", 0, 30), genIssueType(t), nil)
		}
		if rapid.Bool().Draw(t, "github") {
			owner := genAlphaString(t, "owner", 1, 10)
			last := genTime(t, "lastSync")
			store.SetGitHub(models.GitHubSettings{
				Enabled:  true,
				Owner:    &owner,
				LastSync: &last,
				IssueCache: map[string]models.RemoteIssueSnapshot{
					"5": {Number: 5, Title: "x", State: "open", Labels: []string{"a"}, SyncedAt: last},
				},
			})
		}

		before, err := json.Marshal(store.Snapshot())
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Save(); err != nil {
			t.Fatalf("Save: %v", err)
		}

		reread := NewStateStore(dir, nil)
		reread.Load()
		if reread.Recovered() != nil {
			t.Fatalf("unexpected recovery: %v", reread.Recovered())
		}
		after, err := json.Marshal(reread.Snapshot())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(before, after) {
			t.Fatalf("round trip mismatch:\nbefore: %s\nafter:  %s", before, after)
		}
	})
}
