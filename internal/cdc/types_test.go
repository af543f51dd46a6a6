package cdc

import (
	"encoding/json"
	"testing"
)

func TestTupleMarshalPreservesOrder(t *testing.T) {
	row := newTuple(3)
	row.append("zebra", str("1"))
	row.append("apple", nil)
	row.append("mango", str("3"))

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"zebra":"1","apple":null,"mango":"3"}`
	if string(data) != want {
		t.Errorf("tuple JSON = %s, want %s", data, want)
	}
}

func TestTupleGet(t *testing.T) {
	row := newTuple(2)
	row.append("id", str("7"))
	row.append("name", nil)

	v, ok := row.Get("id")
	if !ok || v == nil || *v != "7" {
		t.Errorf("Get(id) = %v, %v", v, ok)
	}

	v, ok = row.Get("name")
	if !ok {
		t.Error("Get(name) should find the NULL column")
	}
	if v != nil {
		t.Errorf("Get(name) should be NULL, got %q", *v)
	}

	if _, ok := row.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
}

func TestTupleEscapesJSON(t *testing.T) {
	row := newTuple(1)
	row.append(`we"ird`, str("line\nbreak"))

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]*string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("tuple JSON does not round-trip: %v", err)
	}
	v, ok := decoded[`we"ird`]
	if !ok || v == nil || *v != "line\nbreak" {
		t.Errorf("round-trip lost content: %v", decoded)
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	newRow := newTuple(2)
	newRow.append("id", str("7"))
	newRow.append("name", str("Bob"))

	events := []Event{
		&InsertEvent{Table: "users", Data: newRow},
		&UpdateEvent{Table: "users", Old: nil, New: newRow},
		&DeleteEvent{Table: "users", Old: newRow},
		&CommitEvent{LSN: 23803720, Timestamp: 761893974000000},
	}
	wantTypes := []string{"insert", "update", "delete", "commit"}

	for i, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal %T: %v", event, err)
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("%T JSON does not parse: %v", event, err)
		}
		if decoded["type"] != wantTypes[i] {
			t.Errorf("%T type = %v, want %s", event, decoded["type"], wantTypes[i])
		}
	}
}

func TestUpdateEventNilOldMarshalsAsNull(t *testing.T) {
	newRow := newTuple(1)
	newRow.append("id", str("7"))

	data, err := json.Marshal(&UpdateEvent{Table: "users", Old: nil, New: newRow})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if string(decoded["old"]) != "null" {
		t.Errorf(`"old" = %s, want null`, decoded["old"])
	}
}

func TestCommitEventLargeValues(t *testing.T) {
	event := &CommitEvent{LSN: 1<<63 + 5, Timestamp: 1 << 62}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		LSN       uint64 `json:"lsn"`
		Timestamp uint64 `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.LSN != event.LSN || decoded.Timestamp != event.Timestamp {
		t.Errorf("round-trip = %+v, want %+v", decoded, event)
	}
}
