package enums

// ReservationState records how a job's credit reservation ended. A held
// reservation terminates exactly once, as consumed or released.
type ReservationState string

const (
	ReservationHeld     ReservationState = "held"
	ReservationConsumed ReservationState = "consumed"
	ReservationReleased ReservationState = "released"
)

// String implements fmt.Stringer.
func (r ReservationState) String() string {
	return string(r)
}

// Settled reports whether the reservation no longer affects credits_reserved.
func (r ReservationState) Settled() bool {
	return r == ReservationConsumed || r == ReservationReleased
}
