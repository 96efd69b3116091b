package protocol

import (
	"encoding/json"
	"testing"
)

func TestConnectTransportOmittedFieldsDecodeAsAbsent(t *testing.T) {
	var p ConnectTransportData
	if err := json.Unmarshal([]byte(`{"type":"producer","candidate":"candidate:1"}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SDPMid != nil {
		t.Fatalf("omitted sdpMid decoded as %q", *p.SDPMid)
	}
	if p.SDPMLineIndex != nil {
		t.Fatalf("omitted sdpMLineIndex decoded as %d", *p.SDPMLineIndex)
	}
}

func TestConnectTransportZeroMLineIndexIsPreserved(t *testing.T) {
	var p ConnectTransportData
	if err := json.Unmarshal([]byte(`{"type":"consumer","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SDPMid == nil || *p.SDPMid != "0" {
		t.Fatal("sdpMid not preserved")
	}
	if p.SDPMLineIndex == nil || *p.SDPMLineIndex != 0 {
		t.Fatal("explicit m-line 0 not preserved")
	}
}
