package puzzlemania

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/questrunner/runner/pkg/shared"
	"github.com/malbeclabs/questrunner/runner/pkg/task"
	"github.com/malbeclabs/questrunner/utils/pkg/retry"
)

type graphQL struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query"`
}

const (
	userLoginQuery = "mutation UserLogin($data: UserLoginInput!) {\n  userLogin(data: $data)\n}"

	activitiesQuery = `query CampaignActivitiesPanel($campaignId: String!) {
  campaign(id: $campaignId) {
    activities {
      id
      title
      endDateTimeAt
      records { id status createdAt }
    }
  }
}`

	verifyQuery = `mutation VerifyActivity($data: VerifyActivityInput!) {
  verifyActivity(data: $data) {
    record { id activityId status createdAt }
  }
}`

	userMeQuery = `query UserMe($campaignId: String!) {
  userMe {
    id
    campaignSpot(campaignId: $campaignId) { id points referralCode }
  }
}`
)

const (
	registrationTitle      = "Campaign Registration"
	registrationActivityID = "8cdc0521-90c1-435e-b108-78761eb9e60a"
	dailyCheckInTitle      = "Daily check-in"
	statusCompleted        = "COMPLETED"
)

// excludedTitles are activities that need something the runner does not do.
var excludedTitles = map[string]bool{
	"Use a friend's referral code":           true,
	"Refer a friend":                         true,
	"Mint 0G Puzzle Mania Commemorative NFT": true,
}

type record struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type activity struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	EndDateTimeAt string   `json:"endDateTimeAt"`
	Records       []record `json:"records"`
}

// skipReason explains why a is not attempted, or returns "" when it should be.
func (a activity) skipReason(now time.Time) string {
	switch {
	case excludedTitles[a.Title]:
		return "excluded"
	case strings.Contains(a.Title, "Farcaster"):
		return "farcaster"
	}
	if n := len(a.Records); n > 0 && a.Records[n-1].Status == statusCompleted && a.Title != dailyCheckInTitle {
		return "completed"
	}
	if a.EndDateTimeAt != "" {
		end, err := time.Parse(time.RFC3339Nano, a.EndDateTimeAt)
		if err == nil && now.After(end) {
			return "ended"
		}
	}
	return ""
}

func (s *session) deformHeaders(operation string, authorized bool) map[string]string {
	h := map[string]string{
		"Origin":                  SiteURL,
		"Referer":                 SiteURL + "/",
		"X-Apollo-Operation-Name": operation,
	}
	if authorized {
		h["Authorization"] = "Bearer " + s.deformToken
	}
	return h
}

func (s *session) activities(ctx context.Context) ([]activity, error) {
	var out struct {
		Data struct {
			Campaign struct {
				Activities []activity `json:"activities"`
			} `json:"campaign"`
		} `json:"data"`
	}
	if _, err := task.DoJSON(ctx, s.env.HTTP, task.Request{
		URL:    s.cfg.DeformURL,
		Header: s.deformHeaders("CampaignActivitiesPanel", true),
		Body: graphQL{
			OperationName: "CampaignActivitiesPanel",
			Variables:     map[string]any{"campaignId": campaignID},
			Query:         activitiesQuery,
		},
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Data.Campaign.Activities) == 0 {
		return nil, retry.Transientf("campaign has no activities")
	}
	return out.Data.Campaign.Activities, nil
}

// verify submits a and succeeds once the site reports the activity completed.
// Registration carries a reserved referral code whose count only moves after
// that confirmation.
func (s *session) verify(ctx context.Context, a activity) error {
	env := s.env
	data := map[string]any{"activityId": a.ID}

	var referral string
	if a.Title == registrationTitle {
		data = map[string]any{"activityId": registrationActivityID}
		metadata := map[string]any{"referralCode": nil}
		if s.cfg.UseReferralCode && env.Shared != nil {
			threshold := s.cfg.InvitesPerReferralCode.Int(env.Rand)
			code, ok, err := env.Shared.ReserveReferral(threshold, env.Identity.Address.Hex())
			if err != nil {
				return retry.AsFatal(err)
			}
			if ok {
				referral = code
				metadata["referralCode"] = code
				env.Log.Info("puzzlemania: registering with referral code", "code", code)
			}
		}
		data["metadata"] = metadata
	}
	consumed := false
	if referral != "" {
		defer func() {
			if !consumed {
				env.Shared.ReleaseReferral(referral)
			}
		}()
	}

	var out struct {
		Data struct {
			VerifyActivity struct {
				Record record `json:"record"`
			} `json:"verifyActivity"`
		} `json:"data"`
	}
	_, err := task.DoJSON(ctx, env.HTTP, task.Request{
		URL:    s.cfg.DeformURL,
		Header: s.deformHeaders("VerifyActivity", true),
		Body: graphQL{
			OperationName: "VerifyActivity",
			Variables:     map[string]any{"data": data},
			Query:         verifyQuery,
		},
	}, &out)
	if retry.IsAlreadyDone(err) {
		env.Log.Info("puzzlemania: activity already done", "activity", a.Title)
		return nil
	}
	if err != nil {
		return err
	}
	if status := out.Data.VerifyActivity.Record.Status; status != statusCompleted {
		return retry.Transientf("activity status %q", status)
	}
	env.Log.Info("puzzlemania: activity completed", "activity", a.Title)

	if referral != "" {
		consumed = true
		err := env.Shared.RecordReferralUse(referral)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			// The registration went through; only the bookkeeping row is gone.
			env.Log.Warn("puzzlemania: referral code vanished before its use was recorded", "code", referral)
		case err != nil:
			return retry.AsFatal(fmt.Errorf("failed to record referral use: %w", err))
		}
	}
	return nil
}

// ErrNoReferralCode means the site has not assigned the wallet a code yet.
var ErrNoReferralCode = errors.New("no referral code assigned")

func (s *session) referralCode(ctx context.Context) (string, error) {
	var out struct {
		Data struct {
			UserMe struct {
				CampaignSpot struct {
					Points       int    `json:"points"`
					ReferralCode string `json:"referralCode"`
				} `json:"campaignSpot"`
			} `json:"userMe"`
		} `json:"data"`
	}
	if _, err := task.DoJSON(ctx, s.env.HTTP, task.Request{
		URL:    s.cfg.DeformURL,
		Header: s.deformHeaders("UserMe", true),
		Body: graphQL{
			OperationName: "UserMe",
			Variables:     map[string]any{"campaignId": campaignID},
			Query:         userMeQuery,
		},
	}, &out); err != nil {
		return "", err
	}
	spot := out.Data.UserMe.CampaignSpot
	s.env.Log.Info("puzzlemania: campaign spot", "points", spot.Points)
	if spot.ReferralCode == "" {
		return "", ErrNoReferralCode
	}
	return spot.ReferralCode, nil
}

func (s *session) collectReferralCode(ctx context.Context) error {
	code, err := s.referralCode(ctx)
	if err != nil {
		return err
	}
	if s.env.Shared == nil {
		return nil
	}
	added, err := s.env.Shared.RegisterReferralCode(s.env.Identity.Address.Hex(), code)
	if err != nil {
		return err
	}
	s.env.Log.Info("puzzlemania: referral code collected", "code", code, "new", added)
	return nil
}
