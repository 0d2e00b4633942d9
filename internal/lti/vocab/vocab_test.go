package vocab

import "testing"

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Learner", "http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
		{"Instructor", "http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"},
		{string(RoleLearner), string(RoleLearner)},
		{string(InstitutionStudent), string(InstitutionStudent)},
		{string(SystemAdministrator), string(SystemAdministrator)},
		{"urn:lti:role:ims/lis/Instructor", "urn:lti:role:ims/lis/Instructor"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeRole(c.in); got != c.want {
			t.Errorf("NormalizeRole(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeRoleIdempotent(t *testing.T) {
	for _, r := range []string{"Mentor", string(RoleMentor), "http://example.com/custom#Role"} {
		once := NormalizeRole(r)
		if twice := NormalizeRole(once); twice != once {
			t.Errorf("NormalizeRole not idempotent for %q: %q != %q", r, once, twice)
		}
	}
}

func TestShortNames(t *testing.T) {
	if got := RoleContentDeveloper.ShortName(); got != "ContentDeveloper" {
		t.Errorf("role short name = %q", got)
	}
	if got := TypeCourseOffering.ShortName(); got != "CourseOffering" {
		t.Errorf("type short name = %q", got)
	}
	if got := ContextType("Group").ShortName(); got != "Group" {
		t.Errorf("bare type short name = %q", got)
	}
}
