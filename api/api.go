/*
Copyright 2024 Confere Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/conferelabs/confere"
	"github.com/conferelabs/confere/api/middleware"
	"github.com/conferelabs/confere/config"
)

type Api struct {
	svc    *confere.Confere
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/sessions", a.CreateSession)
	router.GET("/sessions/:id", a.GetSession)
	router.DELETE("/sessions/:id", a.DeleteSession)

	router.POST("/sessions/:id/load", a.LoadSession)
	router.POST("/sessions/:id/validate", a.ValidateSession)
	router.POST("/sessions/:id/approve", a.ApproveMatch)
	router.POST("/sessions/:id/reject", a.RejectMatch)
	router.GET("/sessions/:id/report", a.SessionReport)
	router.POST("/sessions/:id/clear", a.ClearSession)

	return a.router
}

func NewAPI(svc *confere.Confere) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{svc: svc, router: r}
}
