package jsontime

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Milli is a defined type over time.Time, which msgpack reflection would
// otherwise encode as an empty struct. Encode it as unix milliseconds,
// mirroring the JSON form, with 0 for the zero time.

// EncodeMsgpack implements msgpack.CustomEncoder.
func (m Milli) EncodeMsgpack(enc *msgpack.Encoder) error {
	if time.Time(m).IsZero() {
		return enc.EncodeInt64(0)
	}
	return enc.EncodeInt64(time.Time(m).UnixMilli())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (m *Milli) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	if v == 0 {
		*m = Milli{}
		return nil
	}
	*m = Milli(time.UnixMilli(v))
	return nil
}

var (
	_ msgpack.CustomEncoder = Milli{}
	_ msgpack.CustomDecoder = (*Milli)(nil)
)
