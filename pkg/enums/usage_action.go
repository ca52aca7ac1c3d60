package enums

// UsageAction labels an append-only usage record.
type UsageAction string

const (
	UsageActionSummaryGenerated UsageAction = "summary_generated"
)

// String implements fmt.Stringer.
func (a UsageAction) String() string {
	return string(a)
}
