// Package codec encodes record payloads with deterministic CBOR so stored
// field maps can be decoded back into typed values without knowing the
// originating entity type.
package codec

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"datachange/internal/changetrack/models"
)

// ErrCorruptPayload is returned when stored bytes are not a valid field map.
// It wraps models.ErrSerialization.
var ErrCorruptPayload = fmt.Errorf("%w: corrupt payload", models.ErrSerialization)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TimeTag = cbor.EncTagRequired
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build encoder: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSignedOrBigInt,
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build decoder: %v", err))
	}
	decMode = dm
}

// EncodeFields encodes a field map. A nil map encodes to a nil payload,
// which marks an absent side; an empty map encodes to an empty CBOR map.
// A map whose encoding DecodeFields cannot read back, such as one holding a
// nested map with non-string keys, is rejected with models.ErrSerialization.
func EncodeFields(fields models.FieldMap) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	data, err := encMode.Marshal(map[string]any(fields))
	if err != nil {
		return nil, fmt.Errorf("%w: encode fields: %v", models.ErrSerialization, err)
	}
	var check map[string]any
	if err := decMode.Unmarshal(data, &check); err != nil {
		return nil, fmt.Errorf("%w: encode fields: not decodable: %v", models.ErrSerialization, err)
	}
	return data, nil
}

// DecodeFields decodes a payload produced by EncodeFields. An absent payload
// decodes to a nil map.
func DecodeFields(data []byte) (models.FieldMap, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var fields map[string]any
	if err := decMode.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return models.FieldMap(fields), nil
}

// Equal reports whether two values have the same canonical encoding.
func Equal(a, b any) bool {
	ea, errA := encMode.Marshal(a)
	eb, errB := encMode.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ea, eb)
}

// wireRecord is the transport form of a record used by stream and message
// backends.
type wireRecord struct {
	ID            []byte `cbor:"id"`
	ChangeType    string `cbor:"change_type"`
	EntityType    string `cbor:"entity_type"`
	EntityID      string `cbor:"entity_id"`
	EntityTitle   string `cbor:"entity_title"`
	Stage         string `cbor:"stage"`
	Before        []byte `cbor:"before,omitempty"`
	After         []byte `cbor:"after,omitempty"`
	ActorID       string `cbor:"actor_id,omitempty"`
	ActorEmail    string `cbor:"actor_email,omitempty"`
	RequestURL    string `cbor:"request_url,omitempty"`
	Referer       string `cbor:"referer,omitempty"`
	RemoteAddress string `cbor:"remote_address,omitempty"`
	UserAgent     string `cbor:"user_agent,omitempty"`
	RawGetParams  string `cbor:"raw_get_params,omitempty"`
	RawPostParams string `cbor:"raw_post_params,omitempty"`
	CreatedAt     int64  `cbor:"created_at"`
}

// EncodeRecord serialises a whole record.
func EncodeRecord(r *models.Record) ([]byte, error) {
	w := wireRecord{
		ID:            r.ID[:],
		ChangeType:    string(r.ChangeType),
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		EntityTitle:   r.EntityTitle,
		Stage:         r.Stage,
		Before:        r.Before,
		After:         r.After,
		ActorID:       r.ActorID,
		ActorEmail:    r.ActorEmail,
		RequestURL:    r.RequestURL,
		Referer:       r.Referer,
		RemoteAddress: r.RemoteAddress,
		UserAgent:     r.UserAgent,
		RawGetParams:  r.RawGetParams,
		RawPostParams: r.RawPostParams,
		CreatedAt:     r.CreatedAt.UnixNano(),
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %v", models.ErrSerialization, err)
	}
	return data, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (*models.Record, error) {
	var w wireRecord
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	recordID, err := uuid.FromBytes(w.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: record id: %v", ErrCorruptPayload, err)
	}
	return &models.Record{
		ID:            recordID,
		ChangeType:    models.ChangeType(w.ChangeType),
		EntityType:    w.EntityType,
		EntityID:      w.EntityID,
		EntityTitle:   w.EntityTitle,
		Stage:         w.Stage,
		Before:        w.Before,
		After:         w.After,
		ActorID:       w.ActorID,
		ActorEmail:    w.ActorEmail,
		RequestURL:    w.RequestURL,
		Referer:       w.Referer,
		RemoteAddress: w.RemoteAddress,
		UserAgent:     w.UserAgent,
		RawGetParams:  w.RawGetParams,
		RawPostParams: w.RawPostParams,
		CreatedAt:     time.Unix(0, w.CreatedAt).UTC(),
	}, nil
}
