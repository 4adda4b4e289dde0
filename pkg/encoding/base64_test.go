package encoding

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestStdBase64DataJSON(t *testing.T) {
	// Edge samples a PCM payload can carry: zero, max, min.
	pcm := StdBase64Data{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}

	b, err := json.Marshal(pcm)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"AAD/fwCA"` {
		t.Fatalf("Marshal = %s, want %q", b, "AAD/fwCA")
	}
	if pcm.String() != "AAD/fwCA" {
		t.Fatalf("String = %q", pcm.String())
	}

	var back StdBase64Data
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(back, pcm) {
		t.Fatalf("round trip changed payload: %v != %v", back, pcm)
	}
}

func TestStdBase64DataUnmarshalEdges(t *testing.T) {
	var data StdBase64Data

	if err := json.Unmarshal([]byte(`null`), &data); err != nil || data != nil {
		t.Fatalf("null: err=%v data=%v, want no-op", err, data)
	}
	if err := json.Unmarshal([]byte(`""`), &data); err != nil || len(data) != 0 {
		t.Fatalf(`"": err=%v data=%v, want empty`, err, data)
	}

	for _, bad := range []string{`42`, `"AAD`, `"!!!"`} {
		if err := json.Unmarshal([]byte(bad), &data); err == nil {
			t.Errorf("Unmarshal(%s): expected error", bad)
		}
	}
}

func TestDecodeStdBase64(t *testing.T) {
	got, err := DecodeStdBase64("AAD/fw==")
	if err != nil {
		t.Fatalf("DecodeStdBase64: %v", err)
	}
	if want := []byte{0x00, 0x00, 0xff, 0x7f}; !bytes.Equal(got, want) {
		t.Fatalf("DecodeStdBase64 = %v, want %v", got, want)
	}

	if _, err := DecodeStdBase64(""); err == nil {
		t.Error("empty input: expected error")
	}
	if _, err := DecodeStdBase64("not base64!"); err == nil {
		t.Error("garbage input: expected error")
	}
}

func TestHexDataJSON(t *testing.T) {
	digest := HexData{0x9f, 0x86, 0xd0, 0x81}

	b, err := json.Marshal(digest)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"9f86d081"` {
		t.Fatalf("Marshal = %s, want %q", b, "9f86d081")
	}
	if digest.String() != "9f86d081" {
		t.Fatalf("String = %q", digest.String())
	}

	var back HexData
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(back, digest) {
		t.Fatalf("round trip changed digest: %x != %x", back, digest)
	}
}

func TestHexDataUnmarshalEdges(t *testing.T) {
	var data HexData

	if err := json.Unmarshal([]byte(`null`), &data); err != nil || data != nil {
		t.Fatalf("null: err=%v data=%v, want no-op", err, data)
	}
	for _, bad := range []string{`"9f8"`, `"zz00"`, `7`} {
		if err := json.Unmarshal([]byte(bad), &data); err == nil {
			t.Errorf("Unmarshal(%s): expected error", bad)
		}
	}
}

func TestWirePayloadFields(t *testing.T) {
	type fragment struct {
		Turn   string        `json:"turn"`
		Audio  StdBase64Data `json:"audio"`
		Sha256 HexData       `json:"sha256,omitempty"`
	}

	in := fragment{
		Turn:   "turn_0001",
		Audio:  StdBase64Data{0x01, 0x00, 0x02, 0x00},
		Sha256: HexData{0xab, 0xcd},
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out fragment
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Turn != in.Turn || !bytes.Equal(out.Audio, in.Audio) || !bytes.Equal(out.Sha256, in.Sha256) {
		t.Fatalf("fragment changed in flight: %+v != %+v", out, in)
	}
}
