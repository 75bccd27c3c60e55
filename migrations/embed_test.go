package migrations

import (
	"strings"
	"testing"
)

func TestActiveConversationIndexCoversLegacyRows(t *testing.T) {
	data, err := FS.ReadFile("00003_conversations.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(data)
	i := strings.Index(sql, "conversations_active_lead_instance_key")
	if i < 0 {
		t.Fatalf("active conversation index missing")
	}
	index := sql[i:]
	index = index[:strings.Index(index, ";")]
	if !strings.Contains(index, "COALESCE(instance_id,") {
		t.Fatalf("a NULL instance_id must take part in the unique key: %s", index)
	}
}
