package features

import "github.com/serene416/friend/internal/types"

// hiddenReasons mark places whose identity could not be trusted. Transient
// search errors are not in the set.
var hiddenReasons = map[string]struct{}{
	types.MappingReasonLowConf:      {},
	types.MappingReasonNoCandidates: {},
	types.MappingReasonAmbiguous:    {},
	types.MappingReasonMissingName:  {},
}

// IsHiddenReason reports whether a mapping or photo reason hides a place from
// recommendations.
func IsHiddenReason(reason string) bool {
	_, ok := hiddenReasons[reason]
	return ok
}

// Hidden reports whether the stored features disqualify the place.
func Hidden(f types.PlaceFeatures) bool {
	return IsHiddenReason(f.MappingReason) || IsHiddenReason(f.PhotoCollectionReason)
}

// IssueReason returns the first hiding reason of f, or "".
func IssueReason(f types.PlaceFeatures) string {
	if IsHiddenReason(f.MappingReason) {
		return f.MappingReason
	}
	if IsHiddenReason(f.PhotoCollectionReason) {
		return f.PhotoCollectionReason
	}
	return ""
}

// PhotoStatus derives the photo collection status shown to clients: a
// mapping problem is FAILED, stored photos are READY, an ingested place
// without photos is EMPTY and anything else is still PENDING.
func PhotoStatus(f types.PlaceFeatures) types.PhotoCollectionStatus {
	switch {
	case f.MappingReason != "":
		return types.PhotoCollectionFailed
	case len(f.PhotoURLs) > 0:
		return types.PhotoCollectionReady
	case f.LastIngestedAt != nil:
		if f.PhotoCollectionStatus == types.PhotoCollectionFailed {
			return types.PhotoCollectionFailed
		}
		return types.PhotoCollectionEmpty
	}
	return types.PhotoCollectionPending
}
