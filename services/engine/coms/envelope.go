// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coms

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Payload type discriminators carried in ComsMessage.PayloadType.
const (
	PayloadAnalysisRequest  = "AnalysisRequest"
	PayloadAnalysisResponse = "AnalysisResponse"
	PayloadDataSetRR        = "DataSetRR"
	PayloadInfoRequest      = "InfoRequest"
	PayloadInfoResponse     = "InfoResponse"
	PayloadOpenRequest      = "OpenRequest"
	PayloadOpenProgress     = "OpenProgress"
	PayloadSaveRequest      = "SaveRequest"
	PayloadSaveProgress     = "SaveProgress"
	PayloadFSRequest        = "FSRequest"
	PayloadFSResponse       = "FSResponse"
	PayloadSettingsRR       = "SettingsRR"
	PayloadStoreRequest     = "StoreRequest"
	PayloadStoreResponse    = "StoreResponse"
	PayloadModuleRR         = "ModuleRR"
	PayloadLogRR            = "LogRR"
	PayloadInstanceRequest  = "InstanceRequest"
	PayloadInstanceResponse = "InstanceResponse"
)

var envelopeValidate = validator.New()

// ComsMessage is the frame wrapping every request and response.
//
// Id correlates a response with its request. Payload is the encoded
// message named by PayloadType; when Status is StatusError the payload
// is undefined and must not be decoded. Progress/ProgressTotal carry
// monotone progress for long operations (Status IN_PROGRESS).
type ComsMessage struct {
	Id            int32  `json:"id" validate:"gte=0"`
	InstanceId    string `json:"instanceId,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
	PayloadType   string `json:"payloadType,omitempty"`
	Status        Status `json:"status" validate:"gte=0,lte=2"`
	Error         *Error `json:"error,omitempty"`
	Progress      int32  `json:"progress,omitempty" validate:"gte=0"`
	ProgressTotal int32  `json:"progressTotal,omitempty" validate:"gte=0"`
}

// Validate checks the envelope field constraints after binding.
func (m *ComsMessage) Validate() error {
	if err := envelopeValidate.Struct(m); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}
	if m.Status != StatusError && m.Payload != nil && m.PayloadType == "" {
		return fmt.Errorf("invalid envelope: payload without payloadType")
	}
	return nil
}

// SetPayload encodes v and stores it with its type discriminator.
func (m *ComsMessage) SetPayload(payloadType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", payloadType, err)
	}
	m.Payload = data
	m.PayloadType = payloadType
	return nil
}

// DecodePayload decodes the payload into v after checking the type
// discriminator. Error envelopes carry no decodable payload.
func (m *ComsMessage) DecodePayload(payloadType string, v any) error {
	if m.Status == StatusError {
		return fmt.Errorf("error envelope has no payload")
	}
	if m.PayloadType != payloadType {
		return fmt.Errorf("payload is %s, not %s", m.PayloadType, payloadType)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", payloadType, err)
	}
	return nil
}

// Response builds the reply envelope for this request: same id and
// instance, given terminal status.
func (m *ComsMessage) Response(status Status) *ComsMessage {
	return &ComsMessage{
		Id:         m.Id,
		InstanceId: m.InstanceId,
		Status:     status,
	}
}

// ErrorResponse builds an envelope-level error reply. The whole request
// failed; the caller must not attempt to decode a payload.
func (m *ComsMessage) ErrorResponse(message, cause string) *ComsMessage {
	return &ComsMessage{
		Id:         m.Id,
		InstanceId: m.InstanceId,
		Status:     StatusError,
		Error:      &Error{Message: message, Cause: cause},
	}
}

// ProgressResponse builds an IN_PROGRESS reply carrying a progress
// counter out of total.
func (m *ComsMessage) ProgressResponse(progress, total int32) *ComsMessage {
	return &ComsMessage{
		Id:            m.Id,
		InstanceId:    m.InstanceId,
		Status:        StatusInProgress,
		Progress:      progress,
		ProgressTotal: total,
	}
}
