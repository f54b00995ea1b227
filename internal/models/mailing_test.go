package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEligibleForLock_PendingQueuedFailedAlwaysEligible(t *testing.T) {
	now := time.Now()
	for _, status := range []MailingStatus{MailingPending, MailingQueued, MailingFailed} {
		m := Mailing{Status: status}
		assert.True(t, m.EligibleForLock(now, 30*time.Second), "status %s", status)
	}
}

func TestEligibleForLock_ProcessingWithNoLastAttemptIsEligible(t *testing.T) {
	m := Mailing{Status: MailingProcessing}
	assert.True(t, m.EligibleForLock(time.Now(), 30*time.Second))
}

func TestEligibleForLock_ProcessingStaleIsEligible(t *testing.T) {
	last := time.Now().Add(-1 * time.Minute)
	m := Mailing{Status: MailingProcessing, LastAttempt: &last}
	assert.True(t, m.EligibleForLock(time.Now(), 30*time.Second))
}

func TestEligibleForLock_ProcessingFreshIsNotEligible(t *testing.T) {
	last := time.Now().Add(-1 * time.Second)
	m := Mailing{Status: MailingProcessing, LastAttempt: &last}
	assert.False(t, m.EligibleForLock(time.Now(), 30*time.Second))
}

func TestEligibleForLock_TerminalStatusesNeverEligible(t *testing.T) {
	now := time.Now()
	for _, status := range []MailingStatus{MailingCompleted, MailingPaused, MailingRunning} {
		m := Mailing{Status: status}
		assert.False(t, m.EligibleForLock(now, 30*time.Second), "status %s", status)
	}
}
