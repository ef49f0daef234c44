package latestfiles

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Updater advances channel pointers for one collection in response to a
// creation event. It holds no state of its own; all concurrency control
// lives in the store's conditioned write.
type Updater struct {
	store ChannelStore
}

func NewUpdater(store ChannelStore) *Updater {
	return &Updater{store: store}
}

// Apply finds every channel registered under the event's collection whose
// pattern matches the object key (unanchored search) and conditionally
// advances its pointer. A precondition failure means another writer holds
// an equal or greater key already; it is recorded as already_current, not
// an error. Any other store failure aborts the remaining channels.
//
// Applying the same event any number of times converges: after the first
// successful write every retry lands in the already_current branch.
func (u *Updater) Apply(ctx context.Context, event CreationEvent) (UpdateReport, error) {
	if u == nil || u.store == nil {
		return UpdateReport{}, fmt.Errorf("%w: updater has no store", ErrInvalidInput)
	}
	if event.CollectionID == "" || event.ObjectKey == "" {
		return UpdateReport{}, fmt.Errorf("%w: collection id and object key are required", ErrInvalidInput)
	}

	report := UpdateReport{
		CollectionID: event.CollectionID,
		ObjectKey:    event.ObjectKey,
		Channels:     []ChannelResult{},
	}
	cursor := ""
	for {
		page, err := u.store.QueryRegistrations(ctx, event.CollectionID, cursor)
		if err != nil {
			return UpdateReport{}, err
		}
		for _, registration := range page.Items {
			matched, err := registrationMatches(registration, event.ObjectKey)
			if err != nil {
				return UpdateReport{}, err
			}
			if !matched {
				continue
			}
			err = u.store.AdvancePointer(ctx, event.CollectionID, registration.ChannelID, event.ObjectKey)
			switch {
			case err == nil:
				report.Channels = append(report.Channels, ChannelResult{
					ChannelID: registration.ChannelID,
					Outcome:   OutcomeUpdated,
				})
			case errors.Is(err, ErrPreconditionFailed):
				report.Channels = append(report.Channels, ChannelResult{
					ChannelID: registration.ChannelID,
					Outcome:   OutcomeAlreadyCurrent,
				})
			default:
				return UpdateReport{}, err
			}
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
	}
	return report, nil
}

func registrationMatches(registration Registration, objectKey string) (bool, error) {
	if registration.ChannelID == "" {
		return false, fmt.Errorf("%w: registration is missing a channel id", ErrRegistrationInvalid)
	}
	if registration.Pattern == "" {
		return false, fmt.Errorf("%w: channel %s has no pattern", ErrRegistrationInvalid, registration.ChannelID)
	}
	pattern, err := regexp.Compile(registration.Pattern)
	if err != nil {
		return false, fmt.Errorf("%w: channel %s pattern: %v", ErrRegistrationInvalid, registration.ChannelID, err)
	}
	return pattern.MatchString(objectKey), nil
}
