package db

import (
	"database/sql"
	"fmt"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ruskmedia/screener/internal/screening"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// A named shared-cache memory database so the pool's connections see the
	// same schema; the name keeps tests isolated from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := RunMigrations(sqlDB, ""); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store, err := NewStore(sqlDB)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestMigrationsAreIdempotent(t *testing.T) {
	sqlDB, err := sql.Open("sqlite3", "file:migrations_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sqlDB.Close()
	if err := RunMigrations(sqlDB, ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(sqlDB, ""); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)

	if u, err := store.GetUser("U1"); err != nil || u != nil {
		t.Fatalf("unknown user: u=%v err=%v", u, err)
	}

	if err := store.AddUser(&screening.User{ID: "U1", Username: "alice", DisplayName: "Alice", Campaign: "DISCOVERY_2025"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	answers := screening.AnswerSet{
		"gender":     {"female"},
		"show_types": {"scripted", "anime"},
	}
	groups := []string{"female-18_24-scripted-tier1", "female-18_24-anime-tier1"}
	if err := store.FinalizeUser("U1", answers, groups); err != nil {
		t.Fatalf("FinalizeUser: %v", err)
	}

	// Re-adding the identity must not wipe the finalized screening.
	if err := store.AddUser(&screening.User{ID: "U1", Username: "alice2", DisplayName: "Alice"}); err != nil {
		t.Fatalf("AddUser again: %v", err)
	}

	u, err := store.GetUser("U1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Username != "alice2" {
		t.Fatalf("username = %q", u.Username)
	}
	if u.Campaign != "DISCOVERY_2025" {
		t.Fatalf("empty campaign overwrote the stored one: %q", u.Campaign)
	}
	if !u.Completed {
		t.Fatalf("user not marked completed")
	}
	if !reflect.DeepEqual(u.Answers, answers) {
		t.Fatalf("answers = %v", u.Answers)
	}
	if !reflect.DeepEqual(u.GrantedGroups, groups) {
		t.Fatalf("groups = %v", u.GrantedGroups)
	}
}

func TestFinalizeUnknownUserFails(t *testing.T) {
	store := newTestStore(t)
	if err := store.FinalizeUser("ghost", screening.AnswerSet{}, nil); err == nil {
		t.Fatalf("expected an error for an unknown user")
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddUser(&screening.User{ID: "U1"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	id, err := store.StartSession("U1", "DISCOVERY_2025", "gender")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if id == 0 {
		t.Fatalf("session id = 0")
	}

	if err := store.UpdateSession("U1", "gender", []string{"male"}, "age_group"); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := store.UpdateSession("U1", "age_group", []string{"18_24"}, "show_types"); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	open, err := store.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open sessions = %d", len(open))
	}
	sess := open[0]
	if sess.UserID != "U1" || sess.Current != "show_types" {
		t.Fatalf("session = %+v", sess)
	}
	want := screening.AnswerSet{"gender": {"male"}, "age_group": {"18_24"}}
	if !reflect.DeepEqual(sess.Answers, want) {
		t.Fatalf("answers = %v, want %v", sess.Answers, want)
	}

	if err := store.CompleteSession("U1"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	open, err = store.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("completed session still listed: %v", open)
	}
}

func TestListActiveSessionsSkipsFinishedPointers(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddUser(&screening.User{ID: "U1"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := store.StartSession("U1", "", "gender"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// Pointer ran past the last question before completion was recorded.
	if err := store.UpdateSession("U1", "city_tier", []string{"delhi"}, ""); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	open, err := store.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("exhausted session listed for recovery: %+v", open[0])
	}
}

func TestUpdateSessionWithoutOpenSession(t *testing.T) {
	store := newTestStore(t)
	if err := store.UpdateSession("ghost", "gender", []string{"male"}, "age_group"); err == nil {
		t.Fatalf("expected an error with no open session")
	}
}

func TestCampaignsAndStats(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"FGD_SCRIPTED_SEPT24", "DISCOVERY_2025"} {
		if err := store.AddCampaign(&screening.Campaign{Name: name, Description: "Campaign " + name}); err != nil {
			t.Fatalf("AddCampaign(%s): %v", name, err)
		}
	}
	// Upsert by name must not create a duplicate.
	if err := store.AddCampaign(&screening.Campaign{Name: "DISCOVERY_2025", Description: "updated"}); err != nil {
		t.Fatalf("AddCampaign upsert: %v", err)
	}
	campaigns, err := store.ListCampaigns()
	if err != nil {
		t.Fatalf("ListCampaigns: %v", err)
	}
	if len(campaigns) != 2 {
		t.Fatalf("campaigns = %d", len(campaigns))
	}
	if campaigns[0].Name != "DISCOVERY_2025" || campaigns[0].Description != "updated" {
		t.Fatalf("campaigns[0] = %+v", campaigns[0])
	}

	if err := store.AddUser(&screening.User{ID: "U1", Campaign: "DISCOVERY_2025"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := store.AddUser(&screening.User{ID: "U2", Campaign: "DISCOVERY_2025"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := store.AddUser(&screening.User{ID: "U3"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := store.FinalizeUser("U1", screening.AnswerSet{"gender": {"male"}}, nil); err != nil {
		t.Fatalf("FinalizeUser: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalUsers != 3 || stats.CompletedCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ByCampaign["DISCOVERY_2025"] != 2 {
		t.Fatalf("by campaign = %v", stats.ByCampaign)
	}
}
