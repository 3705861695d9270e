package authorization

import "github.com/smallbiznis/vetclinic/internal/requestctx"

// Owners inherit admin grants and admins inherit staff grants.
var roleHierarchy = [][2]requestctx.Role{
	{requestctx.RoleOwner, requestctx.RoleAdmin},
	{requestctx.RoleAdmin, requestctx.RoleStaff},
}

type grant struct {
	object string
	action string
}

var rolePolicies = map[requestctx.Role][]grant{
	requestctx.RoleStaff: {
		{ObjectInvoice, ActionInvoiceView},
	},
	requestctx.RoleAdmin: {
		{ObjectInvoice, ActionInvoicePay},
		{ObjectInvoice, ActionInvoiceVoid},
		{ObjectAudit, ActionAuditView},
	},
}

type policyStore interface {
	HasPolicy(params ...interface{}) (bool, error)
	AddPolicy(params ...interface{}) (bool, error)
	HasGroupingPolicy(params ...interface{}) (bool, error)
	AddGroupingPolicy(params ...interface{}) (bool, error)
}

func seedPolicies(store policyStore) error {
	for _, link := range roleHierarchy {
		member, parent := roleSubject(link[0]), roleSubject(link[1])
		has, err := store.HasGroupingPolicy(member, parent)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := store.AddGroupingPolicy(member, parent); err != nil {
			return err
		}
	}

	for role, grants := range rolePolicies {
		for _, g := range grants {
			subject := roleSubject(role)
			has, err := store.HasPolicy(subject, g.object, g.action)
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if _, err := store.AddPolicy(subject, g.object, g.action); err != nil {
				return err
			}
		}
	}
	return nil
}
