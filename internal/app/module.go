package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/studykit/entitlements/internal/app/api/server"
	"github.com/studykit/entitlements/internal/app/service/adapter"
	"github.com/studykit/entitlements/internal/app/service/entitlement"
	"github.com/studykit/entitlements/internal/app/service/eventlog"
	"github.com/studykit/entitlements/internal/app/service/ledger"
	"github.com/studykit/entitlements/internal/app/service/promotion"
	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/internal/platform/db"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	server.Module,
	eventlog.Module,
	ledger.Module,
	entitlement.Module,
	reconciler.Module,
	promotion.Module,
	adapter.Module,
)
