package websocket

import (
	"bytes"
	"reflect"
	"strconv"
	"testing"
)

// https://datatracker.ietf.org/doc/html/rfc6455#section-5.7
func TestReadFrameHeader(t *testing.T) {
	tests := []struct {
		name     string
		stream   []byte
		want     frameHeader
		wantRest int
		wantErr  bool
	}{
		{
			name:   "unmasked_text_hello",
			stream: []byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'},
			want:   frameHeader{fin: true, opcode: OpcodeText, payloadLength: 5},
		},
		{
			name:   "masked_text_hello",
			stream: []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58},
			want: frameHeader{
				fin: true, opcode: OpcodeText, masked: true,
				key: [4]byte{0x37, 0xfa, 0x21, 0x3d}, payloadLength: 5,
			},
		},
		{
			name:   "first_fragment_unmasked_text_hel",
			stream: []byte{0x01, 0x03, 'h', 'e', 'l'},
			want:   frameHeader{opcode: OpcodeText, payloadLength: 3},
		},
		{
			name:   "unmasked_ping",
			stream: []byte{0x89, 0x05, 'h', 'e', 'l', 'l', 'o'},
			want:   frameHeader{fin: true, opcode: opcodePing, payloadLength: 5},
		},
		{
			name:   "reserved_bits",
			stream: []byte{0xf1, 0x00},
			want:   frameHeader{fin: true, rsv: [3]bool{true, true, true}, opcode: OpcodeText},
		},
		{
			name:   "256b_unmasked_binary",
			stream: []byte{0x82, 0x7e, 0x01, 0x00},
			want:   frameHeader{fin: true, opcode: OpcodeBinary, payloadLength: 256},
		},
		{
			name:   "64k_unmasked_binary",
			stream: []byte{0x82, 0x7f, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00},
			want:   frameHeader{fin: true, opcode: OpcodeBinary, payloadLength: 65536},
		},
		{
			name:    "truncated_header",
			stream:  []byte{0x81},
			wantErr: true,
		},
		{
			name:    "truncated_extended_length",
			stream:  []byte{0x82, 0x7e, 0x01},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConn(t, tt.stream)
			got, ok, err := c.readFrameHeader(false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readFrameHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if !ok {
				t.Fatal("readFrameHeader() ok = false, want true")
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("readFrameHeader() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReadFrameHeaderGracefulEOF(t *testing.T) {
	c, _ := newTestConn(t, nil)

	_, ok, err := c.readFrameHeader(true)
	if err != nil {
		t.Fatalf("readFrameHeader() error = %v", err)
	}
	if ok {
		t.Error("readFrameHeader() ok = true on EOF, want false")
	}
}

func TestCheckFrameHeader(t *testing.T) {
	tests := []struct {
		name      string
		h         frameHeader
		inMessage bool
		server    bool
		wantErr   bool
	}{
		{
			name: "valid_text",
			h:    frameHeader{fin: true, opcode: OpcodeText},
		},
		{
			name: "valid_fragment_start",
			h:    frameHeader{opcode: OpcodeBinary},
		},
		{
			name:      "valid_continuation",
			h:         frameHeader{fin: true, opcode: OpcodeContinuation},
			inMessage: true,
		},
		{
			name:    "reserved_bits",
			h:       frameHeader{fin: true, rsv: [3]bool{true, false, false}, opcode: OpcodeText},
			wantErr: true,
		},
		{
			name:    "unknown_opcode_3",
			h:       frameHeader{fin: true, opcode: 3},
			wantErr: true,
		},
		{
			name:    "unknown_opcode_11",
			h:       frameHeader{fin: true, opcode: 11},
			wantErr: true,
		},
		{
			name:    "continuation_with_nothing_to_continue",
			h:       frameHeader{fin: true, opcode: OpcodeContinuation},
			wantErr: true,
		},
		{
			name:      "data_frame_mid_message",
			h:         frameHeader{fin: true, opcode: OpcodeText},
			inMessage: true,
			wantErr:   true,
		},
		{
			name:      "control_frame_mid_message",
			h:         frameHeader{fin: true, opcode: opcodePing},
			inMessage: true,
		},
		{
			name:    "fragmented_control_frame",
			h:       frameHeader{opcode: opcodePing},
			wantErr: true,
		},
		{
			name:    "oversized_control_frame",
			h:       frameHeader{fin: true, opcode: opcodePing, payloadLength: 126},
			wantErr: true,
		},
		{
			name:    "masked_server_frame",
			h:       frameHeader{fin: true, opcode: OpcodeText, masked: true},
			wantErr: true,
		},
		{
			name:   "masked_client_frame_server_role",
			h:      frameHeader{fin: true, opcode: OpcodeText, masked: true},
			server: true,
		},
		{
			name:    "unmasked_client_frame_server_role",
			h:       frameHeader{fin: true, opcode: OpcodeText},
			server:  true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.server {
				opts = append(opts, WithServerRole())
			}
			c, _ := newTestConn(t, nil, opts...)

			reason, err := c.checkFrameHeader(tt.h, tt.inMessage)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkFrameHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (reason != "") != tt.wantErr {
				t.Errorf("checkFrameHeader() reason = %q, wantErr %v", reason, tt.wantErr)
			}
		})
	}
}

func TestAppendPayloadLength(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		masked bool
		want   []byte
	}{
		{
			name:   "0",
			masked: true,
			want:   []byte{0x80},
		},
		{
			name:   "1",
			n:      1,
			masked: true,
			want:   []byte{0x80 | 1},
		},
		{
			name:   "125",
			n:      125,
			masked: true,
			want:   []byte{0x80 | 125},
		},
		{
			name:   "126",
			n:      126,
			masked: true,
			want:   []byte{0xfe, 0x00, 126},
		},
		{
			name:   "65535",
			n:      65535,
			masked: true,
			want:   []byte{0xfe, 0xff, 0xff},
		},
		{
			name:   "65536",
			n:      65536,
			masked: true,
			want:   []byte{0xff, 0, 0, 0, 0, 0, 1, 0, 0},
		},
		{
			name: "125_unmasked",
			n:    125,
			want: []byte{125},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := appendPayloadLength(nil, tt.n, tt.masked)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("appendPayloadLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppendFrame(t *testing.T) {
	c, _ := newTestConn(t, nil) // Zero-filled masking keys.

	payload := []byte("hello")
	origPayload := []byte("hello")

	got, err := c.appendFrame(nil, OpcodeText, true, payload)
	if err != nil {
		t.Fatalf("appendFrame() error = %v", err)
	}

	want := []byte{0x81, 0x85, 0, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("appendFrame() = %v, want %v", got, want)
	}

	// The input payload must never be modified by masking.
	if !reflect.DeepEqual(payload, origPayload) {
		t.Errorf("appendFrame() input = %v, want %v", payload, origPayload)
	}
}

func TestAppendFrameServerRole(t *testing.T) {
	c, _ := newTestConn(t, nil, WithServerRole())

	got, err := c.appendFrame(nil, OpcodeBinary, false, []byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("appendFrame() error = %v", err)
	}

	want := []byte{0x02, 0x02, 0xde, 0xad}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("appendFrame() = %v, want %v", got, want)
	}
}

// TestFrameRoundTrip encodes frames with interesting payload sizes and
// decodes them back through the receive path's header parser.
func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 125, 126, 65535, 65536, 1 << 20}

	for _, size := range sizes {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i)
			}

			sender, _ := newTestConn(t, nil)
			frame, err := sender.appendFrame(nil, OpcodeBinary, true, payload)
			if err != nil {
				t.Fatalf("appendFrame() error = %v", err)
			}

			receiver, _ := newTestConn(t, frame, WithServerRole())
			h, ok, err := receiver.readFrameHeader(false)
			if err != nil || !ok {
				t.Fatalf("readFrameHeader() = %v, %v", ok, err)
			}

			if !h.fin || h.opcode != OpcodeBinary || h.payloadLength != uint64(size) || !h.masked {
				t.Fatalf("readFrameHeader() = %+v", h)
			}

			// Unmask in chunks, to exercise the rolling key offset.
			got := make([]byte, 0, size)
			offset := 0
			for len(got) < size {
				if _, err := receiver.rb.ensure(receiver.stream, 1, false); err != nil {
					t.Fatalf("ensure() error = %v", err)
				}
				chunk := receiver.rb.bytes()
				offset = maskBytes(h.key, offset, chunk)
				got = append(got, chunk...)
				receiver.rb.advance(len(chunk))
			}

			if !bytes.Equal(got, payload) {
				t.Errorf("round-tripped payload doesn't match the original (size %d)", size)
			}
		})
	}
}

func TestMaskBytes(t *testing.T) {
	key := [4]byte{'9', '8', '7', '6'}

	tests := []struct {
		name    string
		payload []byte
		offset  int
		want    []byte
	}{
		{
			name: "nil_payload",
		},
		{
			name:    "4_bytes",
			payload: []byte("abcd"),
			want:    []byte{88, 90, 84, 82},
		},
		{
			name:    "inverse_of_4_bytes",
			payload: []byte{88, 90, 84, 82},
			want:    []byte("abcd"),
		},
		{
			name:    "6_bytes",
			payload: []byte("abcdef"),
			want:    []byte{88, 90, 84, 82, 92, 94},
		},
		{
			name:    "rolling_offset_resumes_mid_key",
			payload: []byte("ef"),
			offset:  1,
			want:    []byte{93, 81},
		},
		{
			name:    "offset_2",
			payload: []byte("ef"),
			offset:  2,
			want:    []byte{82, 80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskBytes(key, tt.offset, tt.payload)
			if want := (tt.offset + len(tt.payload)) & 3; got != want {
				t.Errorf("maskBytes() offset = %d, want %d", got, want)
			}
			if tt.want != nil && !reflect.DeepEqual(tt.payload, tt.want) {
				t.Errorf("maskBytes() = %v, want %v", tt.payload, tt.want)
			}
		})
	}
}

// Masking a split payload with a rolling offset must be byte-identical
// to masking it in one call.
func TestMaskBytesSplitEquivalence(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}

	whole := []byte("lorem ipsum dolor sit amet")
	split := append([]byte(nil), whole...)

	maskBytes(key, 0, whole)

	offset := 0
	for i := 0; i < len(split); i += 3 {
		end := min(i+3, len(split))
		offset = maskBytes(key, offset, split[i:end])
	}

	if !bytes.Equal(whole, split) {
		t.Errorf("split masking = %v, want %v", split, whole)
	}
}
