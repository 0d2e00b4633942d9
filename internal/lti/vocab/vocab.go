// internal/lti/vocab/vocab.go
package vocab

import (
	"regexp"
	"strings"
)

/*
Static IMS role and context-type vocabularies.

Short names appearing in launch role claims (e.g. "Learner") are expanded
against the context-role URI base; anything that already looks like a URI is
passed through untouched, since it may belong to a different vocabulary
(institution or system roles).
*/

const (
	contextRoleBase     = "http://purl.imsglobal.org/vocab/lis/v2/membership#"
	contextTypeBase     = "http://purl.imsglobal.org/vocab/lis/v2/course#"
	systemRoleBase      = "http://purl.imsglobal.org/vocab/lis/v2/system/person#"
	institutionRoleBase = "http://purl.imsglobal.org/vocab/lis/v2/institution/person#"
)

// ContextRole is a canonical LIS context role URI.
type ContextRole string

const (
	RoleAdministrator    ContextRole = contextRoleBase + "Administrator"
	RoleContentDeveloper ContextRole = contextRoleBase + "ContentDeveloper"
	RoleInstructor       ContextRole = contextRoleBase + "Instructor"
	RoleLearner          ContextRole = contextRoleBase + "Learner"
	RoleMentor           ContextRole = contextRoleBase + "Mentor"
)

// ShortName returns the fragment after the vocabulary base, e.g. "Learner".
func (r ContextRole) ShortName() string { return string(r)[len(contextRoleBase):] }

// ContextType is a canonical LIS course context type URI.
type ContextType string

const (
	TypeCourseTemplate ContextType = contextTypeBase + "CourseTemplate"
	TypeCourseOffering ContextType = contextTypeBase + "CourseOffering"
	TypeCourseSection  ContextType = contextTypeBase + "CourseSection"
	TypeGroup          ContextType = contextTypeBase + "Group"
)

// ShortName returns the fragment after '#', or the value itself for bare
// tokens. Platforms send both forms in the context type claim.
func (t ContextType) ShortName() string {
	s := string(t)
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SystemRole is a canonical LIS system role URI.
type SystemRole string

const (
	SystemAdministrator SystemRole = systemRoleBase + "Administrator"
	SystemNone          SystemRole = systemRoleBase + "None"
	SystemAccountAdmin  SystemRole = systemRoleBase + "AccountAdmin"
	SystemCreator       SystemRole = systemRoleBase + "Creator"
	SystemSysAdmin      SystemRole = systemRoleBase + "SysAdmin"
	SystemSysSupport    SystemRole = systemRoleBase + "SysSupport"
	SystemUser          SystemRole = systemRoleBase + "User"
)

// InstitutionRole is a canonical LIS institution role URI.
type InstitutionRole string

const (
	InstitutionAdministrator      InstitutionRole = institutionRoleBase + "Administrator"
	InstitutionFaculty            InstitutionRole = institutionRoleBase + "Faculty"
	InstitutionGuest              InstitutionRole = institutionRoleBase + "Guest"
	InstitutionNone               InstitutionRole = institutionRoleBase + "None"
	InstitutionOther              InstitutionRole = institutionRoleBase + "Other"
	InstitutionStaff              InstitutionRole = institutionRoleBase + "Staff"
	InstitutionStudent            InstitutionRole = institutionRoleBase + "Student"
	InstitutionAlumni             InstitutionRole = institutionRoleBase + "Alumni"
	InstitutionInstructor         InstitutionRole = institutionRoleBase + "Instructor"
	InstitutionLearner            InstitutionRole = institutionRoleBase + "Learner"
	InstitutionMember             InstitutionRole = institutionRoleBase + "Member"
	InstitutionMentor             InstitutionRole = institutionRoleBase + "Mentor"
	InstitutionObserver           InstitutionRole = institutionRoleBase + "Observer"
	InstitutionProspectiveStudent InstitutionRole = institutionRoleBase + "ProspectiveStudent"
)

// AGS scopes as granted in the endpoint claim and requested at the token URL.
const (
	ScopeManageLineItems = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeQueryLineItems  = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopePublishScores   = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeAccessResults   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"

	ScopeContextMembership = "https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly"
)

var bareToken = regexp.MustCompile(`^\w+$`)

// NormalizeRole expands a simple context role to a full URI, if needed.
// It is total over all strings: fully-qualified URIs come back unchanged.
func NormalizeRole(role string) string {
	if bareToken.MatchString(role) {
		return contextRoleBase + role
	}
	return role
}

// ShortContextRole normalizes the role and returns its fragment when it is a
// membership-vocabulary role, ok=false for system and institution roles.
func ShortContextRole(role string) (string, bool) {
	n := NormalizeRole(role)
	if strings.HasPrefix(n, contextRoleBase) {
		return n[len(contextRoleBase):], true
	}
	return "", false
}
