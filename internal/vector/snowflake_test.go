package vector

import "testing"

func TestNewSnowflakeBackend_RequiresAccountAndService(t *testing.T) {
	if _, err := NewSnowflakeBackend(SnowflakeConfig{Service: "svc"}); err == nil {
		t.Fatal("expected error for missing account")
	}
	if _, err := NewSnowflakeBackend(SnowflakeConfig{Account: "acct"}); err == nil {
		t.Fatal("expected error for missing service")
	}
}

func TestNewSnowflakeBackend_DefaultsColumns(t *testing.T) {
	b, err := NewSnowflakeBackend(SnowflakeConfig{Account: "acct", Service: "svc"})
	if err != nil {
		t.Fatalf("NewSnowflakeBackend: %v", err)
	}
	if b.cfg.URLColumn != "url" || b.cfg.NameColumn != "name" || b.cfg.SiteColumn != "site" || b.cfg.SchemaJSONColumn != "schema_json" {
		t.Fatalf("unexpected default columns: %+v", b.cfg)
	}
}

func TestAsString(t *testing.T) {
	if got := asString("hello"); got != "hello" {
		t.Fatalf("asString(string) = %q", got)
	}
	if got := asString(42); got != "" {
		t.Fatalf("asString(non-string) = %q, want empty", got)
	}
}

func TestRowsToItems(t *testing.T) {
	b, err := NewSnowflakeBackend(SnowflakeConfig{Account: "acct", Service: "svc"})
	if err != nil {
		t.Fatalf("NewSnowflakeBackend: %v", err)
	}
	rows := []map[string]any{
		{"url": "https://example.com/a", "name": "A", "site": "example.com", "schema_json": "{}"},
	}
	items := b.rowsToItems(rows)
	if len(items) != 1 || items[0].URL != "https://example.com/a" {
		t.Fatalf("items = %v", items)
	}
}
