package cache

import "fmt"

// Reservation keys and their index share the {lfg:res} hash tag so the admission scripts
// stay within one cluster slot.
const (
	ReservationKeyPrefix = "{lfg:res}:reservation:%s:%s:%s"
	ReservationIndexKey  = "{lfg:res}:reservations"
	ArtifactDeletedChan  = "artifacts:deleted"
)

// ReservationKey is the holder set for one (actor, scope, category) admission slot.
func ReservationKey(actorID, scope, category string) string {
	return fmt.Sprintf(ReservationKeyPrefix, actorID, scope, category)
}

// RateLimitKey counts calls to resource by caller id within the current window.
func RateLimitKey(resource, id string) string {
	return fmt.Sprintf("lfg:rl:%s:%s", resource, id)
}
