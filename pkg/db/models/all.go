package models

// All lists every persisted model. Tests and the sqlite dev mode migrate
// with it.
func All() []any {
	return []any{
		&Account{},
		&Job{},
		&Summary{},
		&SummarySegment{},
		&SummaryTakeaway{},
		&UsageRecord{},
		&WebhookEvent{},
	}
}
