package query

import "testing"

func TestReturnValue_RecordAndByType(t *testing.T) {
	rv := NewReturnValue()
	rv.Record(Message{Type: MessageResultBatch, QueryID: "q1", Payload: "a"})
	rv.Record(Message{Type: MessageResultBatch, QueryID: "q1", Payload: "b"})
	rv.Record(Message{Type: MessageComplete, QueryID: "q1"})

	batch := rv.ByType(MessageResultBatch)
	if len(batch) != 2 || batch[0] != "a" || batch[1] != "b" {
		t.Fatalf("ByType(MessageResultBatch) = %v", batch)
	}
	if len(rv.ByType(MessageComplete)) != 1 {
		t.Fatalf("expected one complete message")
	}
	if len(rv.ByType(MessageError)) != 0 {
		t.Fatalf("expected no error messages recorded")
	}
}

func TestReturnValue_AsMap(t *testing.T) {
	rv := NewReturnValue()
	rv.Record(Message{Type: MessageComplete})
	m := rv.AsMap()
	if _, ok := m[MessageComplete]; !ok {
		t.Fatalf("expected AsMap to contain MessageComplete, got %v", m)
	}
}

func TestReturnValue_AsMap_IsACopy(t *testing.T) {
	rv := NewReturnValue()
	rv.Record(Message{Type: MessageComplete, Payload: 1})
	m := rv.AsMap()
	m[MessageComplete][0] = 2
	if rv.ByType(MessageComplete)[0] != 1 {
		t.Fatal("expected AsMap's returned slices to be copies, not aliases")
	}
}

func TestReturnValue_Ordered(t *testing.T) {
	rv := NewReturnValue()
	rv.Record(Message{Type: MessageHeader})
	rv.Record(Message{Type: MessageComplete})
	ordered := rv.Ordered()
	if len(ordered) != 2 || ordered[0].Type != MessageHeader || ordered[1].Type != MessageComplete {
		t.Fatalf("Ordered() = %v", ordered)
	}
}
