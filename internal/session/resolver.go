package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fablehq/fable-relay/internal/save"
)

// legacyDeviceID is assigned to clients that connect without a
// device_id, so their acks share one cursor.
const legacyDeviceID = "legacy"

// ConnectRequest carries the raw handshake inputs before validation.
type ConnectRequest struct {
	Authorization string
	SaveID        string
	ResumeFrom    string
	DeviceID      string
}

// Params is the validated identity of one session.
type Params struct {
	UserID     string
	SaveID     string
	DeviceID   string
	ResumeFrom int64
}

// resolve authenticates the bearer token, authorizes the save, and
// admits the device. Every failure refuses the session with a policy
// violation close; no HELLO is ever sent for a rejected connect.
func resolve(ctx context.Context, deps Deps, req ConnectRequest) (Params, error) {
	token, ok := strings.CutPrefix(req.Authorization, "Bearer ")
	if !ok || token == "" {
		return Params{}, errors.New("session: missing bearer token")
	}
	userID, err := deps.Auth.Verify(token)
	if err != nil {
		return Params{}, err
	}

	if req.SaveID == "" {
		return Params{}, errors.New("session: save_id is required")
	}
	resumeFrom, err := strconv.ParseInt(req.ResumeFrom, 10, 64)
	if err != nil || resumeFrom < 0 {
		return Params{}, fmt.Errorf("session: resume_from must be a non-negative integer, got %q", req.ResumeFrom)
	}

	device := req.DeviceID
	if device == "" {
		device = legacyDeviceID
	}
	if len(device) > deps.MaxDeviceIDLen {
		return Params{}, fmt.Errorf("session: device_id exceeds %d bytes", deps.MaxDeviceIDLen)
	}

	sv, err := deps.Saves.GetByID(ctx, req.SaveID)
	if err != nil {
		return Params{}, err
	}
	if sv.DeletedAt != nil {
		return Params{}, fmt.Errorf("%w: %s", save.ErrDeleted, req.SaveID)
	}
	if sv.UserID != userID {
		return Params{}, fmt.Errorf("%w: %s", save.ErrNotOwner, req.SaveID)
	}

	if err := deps.Log.EnsureDevice(ctx, userID, req.SaveID, device, deps.MaxDevicesPerSave); err != nil {
		return Params{}, err
	}

	return Params{
		UserID:     userID,
		SaveID:     req.SaveID,
		DeviceID:   device,
		ResumeFrom: resumeFrom,
	}, nil
}
