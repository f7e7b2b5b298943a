// Copyright 2026 The Skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/agentconfig"
	"github.com/skeinhq/skein/internal/log"
	"github.com/skeinhq/skein/internal/network"
	"github.com/skeinhq/skein/internal/permission"
	"github.com/skeinhq/skein/internal/port"
	"github.com/skeinhq/skein/pkg/server"
)

const shutdownGrace = 10 * time.Second

// runServe wires the full service together and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log.SetLogger(logger)
	defer func() { _ = log.Sync() }()

	manager := network.New(network.Config{
		DataRoot:      cfg.DataDir,
		ProjectPath:   cfg.Project,
		Binary:        cfg.Binary,
		Configurator:  agentconfig.NewDefault(port.NewAllocator()),
		Asker:         headlessAsker(logger),
		QuestionAsker: headlessQuestionAsker,
		Logger:        logger,
	})

	srv := server.New(server.Config{Manager: manager, Logger: logger})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", errBindFailed, addr, err)
	}
	url := fmt.Sprintf("http://%s", ln.Addr())
	fmt.Println(url)
	logger.Info("skeind listening",
		zap.String("url", url),
		zap.String("project", cfg.Project),
		zap.String("dataDir", cfg.DataDir))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := srv.Serve(ctx, ln)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("manager shutdown", zap.Error(err))
	}
	return serveErr
}

// headlessAsker denies anything the rule set didn't already resolve: the
// HTTP service has no dialog to put in front of a human. An embedding UI
// installs its own Asker instead.
func headlessAsker(logger *zap.Logger) permission.Asker {
	return func(req permission.Request) permission.Response {
		logger.Warn("permission ask with no interactive approver, denying",
			zap.String("tool", req.ToolName),
			zap.String("agentId", req.AgentID))
		return permission.Deny("no interactive approver attached")
	}
}

func headlessQuestionAsker(ctx context.Context, prompt string, options []string) (string, error) {
	return "", errors.New("no interactive user attached")
}
