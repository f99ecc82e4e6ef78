package policy

import (
	"testing"

	"github.com/org/clipguard/pkg/models"
)

// documented is the published permission table, one letter per operation in
// CREATE, READ, UPDATE, DELETE, LIST order: F=FULL_ACCESS, R=READ_ONLY, D=DENIED.
var documented = map[models.Role]map[models.ResourceType]string{
	models.RoleUser: {
		models.ResourceVideo:        "FFFFF",
		models.ResourceJob:          "FFDFF",
		models.ResourceSubscription: "FRFDR",
		models.ResourceUsage:        "DRDDR",
		models.ResourceSettings:     "FFFFF",
		models.ResourceAuthToken:    "FRDFR",
	},
	models.RoleModerator: {
		models.ResourceVideo:        "DRDDR",
		models.ResourceJob:          "DRDDR",
		models.ResourceSubscription: "DDDDD",
		models.ResourceUsage:        "DDDDD",
		models.ResourceSettings:     "DRDDR",
		models.ResourceAuthToken:    "DDDDD",
	},
	models.RoleAdmin: {
		models.ResourceVideo:        "FFFFF",
		models.ResourceJob:          "FFFFF",
		models.ResourceSubscription: "FFFFF",
		models.ResourceUsage:        "FFFFF",
		models.ResourceSettings:     "FFFFF",
		models.ResourceAuthToken:    "FFFFF",
	},
}

func letterLevel(b byte) models.PermissionLevel {
	switch b {
	case 'F':
		return models.PermissionFull
	case 'R':
		return models.PermissionReadOnly
	}
	return models.PermissionDenied
}

func TestMatrixMatchesDocumentedTable(t *testing.T) {
	count := 0
	for role, rows := range documented {
		for rt, letters := range rows {
			for i, op := range models.Operations {
				want := letterLevel(letters[i])
				got := Level(role, rt, op)
				if got != want {
					t.Errorf("Level(%s, %s, %s) = %s, want %s", role, rt, op, got, want)
				}
				wantAllowed := want == models.PermissionFull ||
					(want == models.PermissionReadOnly && (op == models.OpRead || op == models.OpList))
				if IsAllowed(got, op) != wantAllowed {
					t.Errorf("IsAllowed(%s, %s) = %v, want %v", got, op, !wantAllowed, wantAllowed)
				}
				count++
			}
		}
	}
	if count != 90 {
		t.Fatalf("expected 90 documented entries, checked %d", count)
	}
}

func TestUnlistedCombinationsAreDenied(t *testing.T) {
	cases := []struct {
		role models.Role
		rt   models.ResourceType
		op   models.Operation
	}{
		{"guest", models.ResourceVideo, models.OpRead},
		{models.RoleUser, "invoice", models.OpRead},
		{models.RoleAdmin, models.ResourceVideo, "PURGE"},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := Level(tc.role, tc.rt, tc.op); got != models.PermissionDenied {
			t.Errorf("Level(%q, %q, %q) = %s, want DENIED", tc.role, tc.rt, tc.op, got)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	for _, op := range models.Operations {
		if IsAllowed(models.PermissionDenied, op) {
			t.Errorf("DENIED must block %s", op)
		}
		if !IsAllowed(models.PermissionFull, op) {
			t.Errorf("FULL_ACCESS must permit %s", op)
		}
		wantRO := op == models.OpRead || op == models.OpList
		if IsAllowed(models.PermissionReadOnly, op) != wantRO {
			t.Errorf("READ_ONLY on %s: expected %v", op, wantRO)
		}
	}
	if IsAllowed("BOGUS", models.OpRead) {
		t.Error("unknown level must not permit anything")
	}
}

func TestAdminOnlyEntriesDeniedToOtherRoles(t *testing.T) {
	for _, rt := range models.ResourceTypes {
		for _, op := range models.Operations {
			if RequiredAccessLevel(rt, op) != models.AccessAdminOnly {
				continue
			}
			for _, role := range []models.Role{models.RoleUser, models.RoleModerator} {
				if IsAllowed(Level(role, rt, op), op) {
					t.Errorf("%s on %s is ADMIN_ONLY but %s is allowed", op, rt, role)
				}
			}
		}
	}
}

func TestRequiresOwnership(t *testing.T) {
	if RequiresOwnership(models.RoleAdmin, models.ResourceVideo, models.OpDelete) {
		t.Error("admins bypass ownership")
	}
	if !RequiresOwnership(models.RoleUser, models.ResourceVideo, models.OpRead) {
		t.Error("users are always checked")
	}
	if RequiresOwnership(models.RoleModerator, models.ResourceVideo, models.OpRead) {
		t.Error("moderators may read any video")
	}
	if !RequiresOwnership(models.RoleModerator, models.ResourceVideo, models.OpDelete) {
		t.Error("OWNER_ONLY applies to moderators")
	}
}

func TestTableIsComplete(t *testing.T) {
	rows := Table()
	if len(rows) != 90 {
		t.Fatalf("expected 90 rows, got %d", len(rows))
	}
	seen := map[Row]bool{}
	for _, r := range rows {
		if seen[r] {
			t.Errorf("duplicate row %+v", r)
		}
		seen[r] = true
	}
}
