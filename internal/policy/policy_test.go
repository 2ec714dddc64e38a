package policy

import (
	"errors"
	"testing"

	"registersync/pkg/types"
)

var allOperations = []Operation{OpRead, OpCreate, OpUpdate, OpDelete, OpReorder, OpJoinRoom}

func TestPermit_AdminMayDoEverything(t *testing.T) {
	for _, op := range allOperations {
		if !Permit(types.RoleAdmin, op) {
			t.Errorf("Admin should be permitted %s", op)
		}
	}
}

func TestPermit_ViewerIsReadOnly(t *testing.T) {
	for _, op := range allOperations {
		want := !IsWrite(op)
		if got := Permit(types.RoleViewer, op); got != want {
			t.Errorf("Permit(viewer, %s) = %v, want %v", op, got, want)
		}
	}
}

func TestPermit_GamerHasNoRegisterAccess(t *testing.T) {
	for _, op := range allOperations {
		if Permit(types.RoleGamer, op) {
			t.Errorf("Gamer should not be permitted %s", op)
		}
	}
}

func TestPermit_UnknownRoleOrOperation(t *testing.T) {
	if Permit("superuser", OpRead) {
		t.Error("Unknown roles must be denied")
	}
	if Permit(types.RoleAdmin, "import") {
		t.Error("Unknown operations must be denied")
	}
}

func TestAuthorize(t *testing.T) {
	if err := Authorize(types.RoleAdmin, OpReorder); err != nil {
		t.Errorf("Expected admin reorder to be allowed: %v", err)
	}
	if err := Authorize(types.RoleViewer, OpReorder); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied for viewer reorder, got %v", err)
	}
}
