// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/acsio/acs"
	"github.com/acsio/acs/access"
	"github.com/acsio/acs/audit"
	"github.com/acsio/acs/entities"
)

var (
	_ acs.Response = (*entityRes)(nil)
	_ acs.Response = (*entitiesPageRes)(nil)
	_ acs.Response = (*deleteRes)(nil)
	_ acs.Response = (*edgeRes)(nil)
	_ acs.Response = (*membersRes)(nil)
	_ acs.Response = (*membershipsRes)(nil)
	_ acs.Response = (*grantRes)(nil)
	_ acs.Response = (*revokeRes)(nil)
	_ acs.Response = (*bulkRes)(nil)
	_ acs.Response = (*checkRes)(nil)
	_ acs.Response = (*permissionsRes)(nil)
	_ acs.Response = (*decisionsRes)(nil)
	_ acs.Response = (*recordRes)(nil)
	_ acs.Response = (*purgeRes)(nil)
	_ acs.Response = (*structureRes)(nil)
	_ acs.Response = (*auditPageRes)(nil)
	_ acs.Response = (*complianceRes)(nil)
	_ acs.Response = (*integrityRes)(nil)
	_ acs.Response = (*impactRes)(nil)
	_ acs.Response = (*graphStatsRes)(nil)
	_ acs.Response = (*bufferStatsRes)(nil)
	_ acs.Response = (*cacheStatsRes)(nil)
	_ acs.Response = (*executeRes)(nil)
)

type entityRes struct {
	entities.Entity `json:",inline"`
	created         bool
}

func (res entityRes) Code() int {
	if res.created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (res entityRes) Headers() map[string]string {
	return map[string]string{}
}

func (res entityRes) Empty() bool {
	return false
}

type entitiesPageRes struct {
	access.EntitiesPage `json:",inline"`
}

func (res entitiesPageRes) Code() int {
	return http.StatusOK
}

func (res entitiesPageRes) Headers() map[string]string {
	return map[string]string{}
}

func (res entitiesPageRes) Empty() bool {
	return false
}

type deleteRes struct{}

func (res deleteRes) Code() int {
	return http.StatusNoContent
}

func (res deleteRes) Headers() map[string]string {
	return map[string]string{}
}

func (res deleteRes) Empty() bool {
	return true
}

type edgeRes struct{}

func (res edgeRes) Code() int {
	return http.StatusNoContent
}

func (res edgeRes) Headers() map[string]string {
	return map[string]string{}
}

func (res edgeRes) Empty() bool {
	return true
}

type membersRes struct {
	Members []entities.Entity `json:"members"`
}

func (res membersRes) Code() int {
	return http.StatusOK
}

func (res membersRes) Headers() map[string]string {
	return map[string]string{}
}

func (res membersRes) Empty() bool {
	return false
}

type membershipsRes struct {
	Memberships []entities.Entity `json:"memberships"`
}

func (res membershipsRes) Code() int {
	return http.StatusOK
}

func (res membershipsRes) Headers() map[string]string {
	return map[string]string{}
}

func (res membershipsRes) Empty() bool {
	return false
}

type grantRes struct{}

func (res grantRes) Code() int {
	return http.StatusCreated
}

func (res grantRes) Headers() map[string]string {
	return map[string]string{}
}

func (res grantRes) Empty() bool {
	return true
}

type revokeRes struct{}

func (res revokeRes) Code() int {
	return http.StatusNoContent
}

func (res revokeRes) Headers() map[string]string {
	return map[string]string{}
}

func (res revokeRes) Empty() bool {
	return true
}

type bulkRes struct {
	access.BulkResult `json:",inline"`
}

func (res bulkRes) Code() int {
	if res.Failed > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}

func (res bulkRes) Headers() map[string]string {
	return map[string]string{}
}

func (res bulkRes) Empty() bool {
	return false
}

type checkRes struct {
	Allowed bool `json:"allowed"`
}

func (res checkRes) Code() int {
	return http.StatusOK
}

func (res checkRes) Headers() map[string]string {
	return map[string]string{}
}

func (res checkRes) Empty() bool {
	return false
}

type permissionsRes struct {
	Permissions []entities.Permission `json:"permissions"`
}

func (res permissionsRes) Code() int {
	return http.StatusOK
}

func (res permissionsRes) Headers() map[string]string {
	return map[string]string{}
}

func (res permissionsRes) Empty() bool {
	return false
}

type decisionsRes struct {
	Decisions []access.ResourceDecision `json:"decisions"`
}

func (res decisionsRes) Code() int {
	return http.StatusOK
}

func (res decisionsRes) Headers() map[string]string {
	return map[string]string{}
}

func (res decisionsRes) Empty() bool {
	return false
}

type recordRes struct{}

func (res recordRes) Code() int {
	return http.StatusCreated
}

func (res recordRes) Headers() map[string]string {
	return map[string]string{}
}

func (res recordRes) Empty() bool {
	return true
}

type purgeRes struct {
	Purged int64 `json:"purged"`
}

func (res purgeRes) Code() int {
	return http.StatusOK
}

func (res purgeRes) Headers() map[string]string {
	return map[string]string{}
}

func (res purgeRes) Empty() bool {
	return false
}

type structureRes struct {
	access.StructureReport `json:",inline"`
}

func (res structureRes) Code() int {
	return http.StatusOK
}

func (res structureRes) Headers() map[string]string {
	return map[string]string{}
}

func (res structureRes) Empty() bool {
	return false
}

type auditPageRes struct {
	audit.RecordsPage `json:",inline"`
}

func (res auditPageRes) Code() int {
	return http.StatusOK
}

func (res auditPageRes) Headers() map[string]string {
	return map[string]string{}
}

func (res auditPageRes) Empty() bool {
	return false
}

type complianceRes struct {
	access.ComplianceReport `json:",inline"`
}

func (res complianceRes) Code() int {
	return http.StatusOK
}

func (res complianceRes) Headers() map[string]string {
	return map[string]string{}
}

func (res complianceRes) Empty() bool {
	return false
}

type integrityRes struct {
	audit.IntegrityReport `json:",inline"`
}

func (res integrityRes) Code() int {
	return http.StatusOK
}

func (res integrityRes) Headers() map[string]string {
	return map[string]string{}
}

func (res integrityRes) Empty() bool {
	return false
}

type impactRes struct {
	access.ImpactReport `json:",inline"`
}

func (res impactRes) Code() int {
	return http.StatusOK
}

func (res impactRes) Headers() map[string]string {
	return map[string]string{}
}

func (res impactRes) Empty() bool {
	return false
}

type graphStatsRes struct {
	entities.Stats `json:",inline"`
}

func (res graphStatsRes) Code() int {
	return http.StatusOK
}

func (res graphStatsRes) Headers() map[string]string {
	return map[string]string{}
}

func (res graphStatsRes) Empty() bool {
	return false
}

type bufferStatsRes struct {
	access.BufferStats `json:",inline"`
}

func (res bufferStatsRes) Code() int {
	return http.StatusOK
}

func (res bufferStatsRes) Headers() map[string]string {
	return map[string]string{}
}

func (res bufferStatsRes) Empty() bool {
	return false
}

type cacheStatsRes struct {
	access.CacheStats `json:",inline"`
}

func (res cacheStatsRes) Code() int {
	return http.StatusOK
}

func (res cacheStatsRes) Headers() map[string]string {
	return map[string]string{}
}

func (res cacheStatsRes) Empty() bool {
	return false
}

type executeRes struct {
	Kind   string      `json:"kind"`
	Result interface{} `json:"result,omitempty"`
}

func (res executeRes) Code() int {
	return http.StatusOK
}

func (res executeRes) Headers() map[string]string {
	return map[string]string{}
}

func (res executeRes) Empty() bool {
	return false
}
