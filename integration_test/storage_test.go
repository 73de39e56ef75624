//go:build integration

package integration_test

import (
	"time"

	"gorm.io/datatypes"

	"gitlab.com/timkado/api/identity-onboarding/internal/apperrors"
	"gitlab.com/timkado/api/identity-onboarding/internal/model"
	"gitlab.com/timkado/api/identity-onboarding/internal/notifier"
)

type StorageSuite struct {
	BaseIntegrationSuite
}

func (s *StorageSuite) TestCreateUserAndCount() {
	user := model.NewUser(func(u *model.User) {
		u.Firstname = "Corinne"
		u.Lastname = "Berthier"
	})
	s.Require().NoError(s.Repo.CreateUser(s.Ctx, user))

	count, err := s.Repo.CountByFullname(s.Ctx, "Berthier", "Corinne")
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	count, err = s.Repo.CountByFullname(s.Ctx, "Berthier", "Jean")
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *StorageSuite) TestCreateUserRejectsDuplicateFullname() {
	first := model.NewUser(func(u *model.User) { u.Firstname, u.Lastname = "Corinne", "Berthier" })
	second := model.NewUser(func(u *model.User) { u.Firstname, u.Lastname = "Corinne", "Berthier" })

	s.Require().NoError(s.Repo.CreateUser(s.Ctx, first))
	err := s.Repo.CreateUser(s.Ctx, second)
	s.ErrorIs(err, apperrors.ErrDuplicate)

	var stored int64
	s.Require().NoError(s.DB.Model(&model.User{}).Count(&stored).Error)
	s.Equal(int64(1), stored)
}

func (s *StorageSuite) TestSaveFailedOnboarding() {
	failure := model.FailedOnboarding{
		RequestID:    "req-integration",
		Step:         "VerifyAddress",
		Code:         string(apperrors.CodeAddressUnverifiable),
		Kind:         string(apperrors.KindPolicyRejection),
		ErrorMessage: "Address is incorrect, please verify your input",
		Subject:      "v1.onboarding.failed.VerifyAddress",
		Payload:      datatypes.JSON(`{"requestId":"req-integration"}`),
		ReceivedAt:   time.Now().UTC(),
	}
	s.Require().NoError(s.Repo.SaveFailedOnboarding(s.Ctx, failure))

	var stored model.FailedOnboarding
	s.Require().NoError(s.DB.Where("request_id = ?", "req-integration").First(&stored).Error)
	s.Equal("VerifyAddress", stored.Step)
	s.Equal(string(apperrors.CodeAddressUnverifiable), stored.Code)
	s.False(stored.Resolved)
}

func (s *StorageSuite) TestConnectionRegistry() {
	registry := notifier.NewRedisRegistry(s.RedisCli, time.Minute)
	reg := model.ConnectionRegistration{RequestID: "req-1", ConnectionID: "conn-1"}

	s.Require().NoError(registry.Register(s.Ctx, reg))
	connectionID, err := registry.Lookup(s.Ctx, "req-1")
	s.Require().NoError(err)
	s.Equal("conn-1", connectionID)

	s.Require().NoError(registry.Unregister(s.Ctx, "conn-1"))
	connectionID, err = registry.Lookup(s.Ctx, "req-1")
	s.Require().NoError(err)
	s.Empty(connectionID)
}
