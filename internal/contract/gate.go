package contract

import "time"

// Gate selects the deposits eligible for dispatch at now.
//
// A key is eligible when it has no stamp, or when stamp+delay is strictly before now.
// Every key in deposits is restamped to now whether or not it was selected, so a
// resubmission inside the window pushes the window forward. Keys repeated inside one
// batch see the stamp written by their earlier occurrence. Selected deposits keep
// their input order.
func Gate(deposits []Deposit, stamps map[DepositKey]time.Time, now time.Time, delay time.Duration) ([]Deposit, map[DepositKey]time.Time) {
	selected := make([]Deposit, 0, len(deposits))
	writes := make(map[DepositKey]time.Time, len(deposits))
	for _, d := range deposits {
		key := d.Key()
		last, seen := writes[key]
		if !seen {
			last, seen = stamps[key]
		}
		if !seen || last.Add(delay).Before(now) {
			selected = append(selected, d)
		}
		writes[key] = now
	}
	return selected, writes
}

// Keys returns the distinct keys of deposits in first-seen order.
func Keys(deposits []Deposit) []DepositKey {
	seen := make(map[DepositKey]struct{}, len(deposits))
	keys := make([]DepositKey, 0, len(deposits))
	for _, d := range deposits {
		k := d.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
