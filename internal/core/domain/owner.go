package domain

import "fmt"

type OwnerKind string

const (
	OwnerKindUser      OwnerKind = "user"
	OwnerKindAnonymous OwnerKind = "anonymous"
)

// Owner identifies who a cart or order belongs to: either an authenticated
// user or an anonymous session token, never both. The zero value is invalid.
type Owner struct {
	kind OwnerKind
	id   string
}

func UserOwner(userID string) Owner {
	return Owner{kind: OwnerKindUser, id: userID}
}

func AnonymousOwner(sessionToken string) Owner {
	return Owner{kind: OwnerKindAnonymous, id: sessionToken}
}

// ParseOwner rebuilds an Owner from its stored kind and id.
func ParseOwner(kind, id string) (Owner, error) {
	o := Owner{kind: OwnerKind(kind), id: id}
	if err := o.Validate(); err != nil {
		return Owner{}, err
	}
	return o, nil
}

func (o Owner) Kind() OwnerKind { return o.kind }
func (o Owner) ID() string      { return o.id }

func (o Owner) IsUser() bool      { return o.kind == OwnerKindUser && o.id != "" }
func (o Owner) IsAnonymous() bool { return o.kind == OwnerKindAnonymous && o.id != "" }
func (o Owner) IsZero() bool      { return o.kind == "" && o.id == "" }

func (o Owner) Validate() error {
	if o.IsUser() || o.IsAnonymous() {
		return nil
	}
	return fmt.Errorf("%w: kind=%q id=%q", ErrInvalidOwner, o.kind, o.id)
}

func (o Owner) String() string {
	return string(o.kind) + ":" + o.id
}
