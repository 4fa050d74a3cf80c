package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_RejectsEmptyPairs(t *testing.T) {
	c := validConfig()
	c.Pairs = nil
	assert.ErrorContains(t, c.Validate(), "trading pair")
}

func TestValidate_RejectsEmptyAccounts(t *testing.T) {
	c := validConfig()
	c.Accounts = nil
	assert.ErrorContains(t, c.Validate(), "account is required")
}

func TestValidate_RejectsDuplicateSymbol(t *testing.T) {
	c := validConfig()
	c.Pairs = append(c.Pairs, c.Pairs[0])
	assert.ErrorContains(t, c.Validate(), "duplicate pair symbol")
}

func TestValidate_RejectsDuplicateAccount(t *testing.T) {
	c := validConfig()
	c.Accounts = append(c.Accounts, c.Accounts[0])
	assert.ErrorContains(t, c.Validate(), "duplicate account")
}

func TestValidate_RejectsMissingCredentials(t *testing.T) {
	c := validConfig()
	c.Accounts[0].APISecret = ""
	assert.ErrorContains(t, c.Validate(), "api_key or api_secret")
}

func TestValidate_RejectsBadHistoryCapacity(t *testing.T) {
	c := validConfig()
	c.Pairs[0].NumPreviousCandles = 0
	assert.ErrorContains(t, c.Validate(), "num_previous_candles")

	c.Pairs[0].NumPreviousCandles = 100
	assert.ErrorContains(t, c.Validate(), "num_previous_candles")
}

func TestValidate_RejectsBadUSDTAmount(t *testing.T) {
	c := validConfig()
	c.Pairs[0].USDTAmount = 0
	assert.ErrorContains(t, c.Validate(), "usdt_amount")
}

func TestValidate_RejectsNegativeFeesExemption(t *testing.T) {
	c := validConfig()
	c.Pairs[0].FeesExemptionPercentage = -1
	assert.ErrorContains(t, c.Validate(), "fees_exemption_percentage")
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}
