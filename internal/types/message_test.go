package types

import "testing"

func TestParseMessageTabID(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    *TabID
		wantErr bool
	}{
		{name: "number", data: `{"tabId":7,"action":"getHAR"}`, want: tabRef(7)},
		{name: "numeric string", data: `{"tabId":"7","action":"getHAR"}`, want: tabRef(7)},
		{name: "missing", data: `{"action":"getHAR"}`},
		{name: "null", data: `{"tabId":null,"action":"getHAR"}`},
		{name: "word", data: `{"tabId":"tab-7","action":"getHAR"}`, wantErr: true},
		{name: "fraction", data: `{"tabId":1.5,"action":"getHAR"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if msg.Action != ActionGetHAR {
				t.Fatalf("Action = %q; want %q", msg.Action, ActionGetHAR)
			}
			if (msg.TabIDErr != nil) != tt.wantErr {
				t.Fatalf("TabIDErr = %v; wantErr %v", msg.TabIDErr, tt.wantErr)
			}
			switch {
			case tt.want == nil && msg.TabID != nil:
				t.Fatalf("TabID = %v; want nil", *msg.TabID)
			case tt.want != nil && (msg.TabID == nil || *msg.TabID != *tt.want):
				t.Fatalf("TabID = %v; want %v", msg.TabID, *tt.want)
			}
		})
	}
}

func TestParseMessageEmpty(t *testing.T) {
	for _, data := range []string{"", "  ", "null"} {
		if _, err := ParseMessage([]byte(data)); err != ErrEmptyMessage {
			t.Fatalf("ParseMessage(%q) error = %v; want ErrEmptyMessage", data, err)
		}
	}
}

func tabRef(t TabID) *TabID { return &t }
