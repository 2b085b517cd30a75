package relay

// MergeRecipients builds the envelope recipient list for a message. It keeps
// the order of to, then appends each address from bcc and then from cc that
// isn't in the list yet. Addresses are compared as exact strings and each
// one shows up only once. The arguments aren't modified.
func MergeRecipients(to, cc, bcc []string) []string {
	r := make([]string, 0, len(to)+len(cc)+len(bcc))
	seen := make(map[string]struct{}, cap(r))

	for _, l := range [][]string{to, bcc, cc} {
		for _, a := range l {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			r = append(r, a)
		}
	}

	return r
}
