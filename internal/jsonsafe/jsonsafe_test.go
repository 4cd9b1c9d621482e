package jsonsafe

import (
	"strings"
	"testing"
)

func TestSanitizeStripsProtoAtTopLevel(t *testing.T) {
	raw := map[string]interface{}{
		"name":        "k1",
		"__proto__":   map[string]interface{}{"polluted": true},
		"constructor": "x",
	}
	out := Sanitize(raw).(map[string]interface{})
	if _, ok := out["__proto__"]; ok {
		t.Error("expected __proto__ stripped")
	}
	if _, ok := out["constructor"]; ok {
		t.Error("expected constructor stripped")
	}
	if out["name"] != "k1" {
		t.Error("expected legitimate field preserved")
	}
}

func TestSanitizeStripsAtEveryDepth(t *testing.T) {
	raw := map[string]interface{}{
		"tags": map[string]interface{}{
			"nested": map[string]interface{}{
				"prototype": "evil",
				"ok":        "fine",
			},
		},
	}
	out := Sanitize(raw).(map[string]interface{})
	tags := out["tags"].(map[string]interface{})
	nested := tags["nested"].(map[string]interface{})
	if _, ok := nested["prototype"]; ok {
		t.Error("expected prototype stripped at nested depth")
	}
	if nested["ok"] != "fine" {
		t.Error("expected legitimate nested field preserved")
	}
}

func TestSanitizeWalksArrays(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"__proto__": "x", "ok": 1},
	}
	out := Sanitize(raw).([]interface{})
	item := out[0].(map[string]interface{})
	if _, ok := item["__proto__"]; ok {
		t.Error("expected __proto__ stripped inside array element")
	}
}

func TestUnmarshalRejectsNothingButStripsKeys(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	body := `{"name":"k1","__proto__":{"x":1}}`
	if err := Unmarshal([]byte(body), &target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Name != "k1" {
		t.Errorf("expected name decoded, got %q", target.Name)
	}
}

func TestDecodeFromReader(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	err := Decode(strings.NewReader(`{"name":"k2"}`), &target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Name != "k2" {
		t.Errorf("expected name k2, got %q", target.Name)
	}
}

func TestClampInt64(t *testing.T) {
	if got := ClampInt64(-5, 100); got != 0 {
		t.Errorf("expected negative clamped to 0, got %d", got)
	}
	if got := ClampInt64(1000, 100); got != 100 {
		t.Errorf("expected over-max clamped to 100, got %d", got)
	}
	if got := ClampInt64(50, 100); got != 50 {
		t.Errorf("expected in-range value preserved, got %d", got)
	}
}
