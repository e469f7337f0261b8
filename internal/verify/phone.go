package verify

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/protocol-education/school-intel/internal/model"
)

// ukCountryCode is the only calling code accepted as a plausible school
// number.
const ukCountryCode = 44

// NormalizePhone converts raw to E.164. On failure the trimmed input is
// returned with ok=false. Normalizing an already normalized number returns
// it unchanged.
func NormalizePhone(raw, region string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return s, false
	}
	if region == "" {
		region = "GB"
	}
	num, err := phonenumbers.Parse(s, region)
	if err != nil {
		return s, false
	}
	if int(num.GetCountryCode()) != ukCountryCode || !phonenumbers.IsValidNumber(num) {
		return s, false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// phoneCheck normalizes c.Phone in place and returns the check outcome.
func phoneCheck(c *model.ContactRecord, region string) (model.Check, bool) {
	if strings.TrimSpace(c.Phone) == "" {
		return model.Check{}, false
	}
	norm, ok := NormalizePhone(c.Phone, region)
	c.Phone = norm
	if !ok {
		c.PhoneNormalizationFailed = true
		return model.Check{Method: model.MethodPhoneNormalized, Outcome: model.OutcomeFailed, Evidence: "not a valid UK number"}, true
	}
	c.PhoneNormalizationFailed = false
	return model.Check{Method: model.MethodPhoneNormalized, Outcome: model.OutcomeVerified, Evidence: norm}, true
}
