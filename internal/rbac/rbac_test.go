package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleParishSecretary, ActionRead, true},
		{RoleParishSecretary, ActionEdit, true},
		{RoleParishSecretary, ActionReview, false},
		{RoleParishSecretary, ActionMuseumReview, false},
		{RoleChanceryOffice, ActionReview, true},
		{RoleChanceryOffice, ActionEdit, false},
		{RoleMuseumResearcher, ActionMuseumReview, true},
		{RoleMuseumResearcher, ActionReview, false},
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionMuseumReview, true},
		{Role("visitor"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("chancery_office") != RoleChanceryOffice {
		t.Fatalf("expected chancery_office to normalize")
	}
	if Normalize("bishop") != "" {
		t.Fatalf("expected unknown role to normalize to empty")
	}
}
