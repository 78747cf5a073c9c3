package actorcontext

import "github.com/gofiber/fiber/v2"

const (
	KeyActorContext = "ACTOR_CONTEXT"
)

// ActorContext carries the authenticated operator identity through a request.
// The billing audit trail records Identity() as the acting party.
type ActorContext struct {
	UserID         uint
	Name           string
	Email          string
	OrganizationID uint
	IsAdmin        bool
	IsAuthted      bool
}

// Identity is the actor string written to audit entries.
func (a ActorContext) Identity() string {
	if !a.IsAuthted {
		return "anonymous"
	}
	if a.Email != "" {
		return a.Email
	}
	return a.Name
}

// GetActorContext returns the actor attached to the request, or a zero value
// for unauthenticated requests.
func GetActorContext(c *fiber.Ctx) ActorContext {
	if actor, ok := c.Locals(KeyActorContext).(ActorContext); ok {
		return actor
	}
	return ActorContext{}
}

// SetActorContext attaches the actor to the request.
func SetActorContext(c *fiber.Ctx, actor ActorContext) {
	c.Locals(KeyActorContext, actor)
}
