package enums

// ActorRole identifies who is invoking a core operation.
type ActorRole string

const (
	ActorRoleCustomer  ActorRole = "customer"
	ActorRoleShopStaff ActorRole = "shop_staff"
	ActorRoleAdmin     ActorRole = "admin"
	ActorRoleSystem    ActorRole = "system"
)

// String implements fmt.Stringer.
func (a ActorRole) String() string {
	return string(a)
}
