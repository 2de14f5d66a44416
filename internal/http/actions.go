package http

import "semaphore/devicehub/internal/model"

// actionTable declares every action with the minimum role it requires.
// Device-facing actions carry no role.
func (s *Server) actionTable() map[string]action {
	device := func(h handlerFunc) action { return action{handle: h} }
	user := func(h handlerFunc) action { return action{minRole: model.RoleUser, handle: h} }
	manager := func(h handlerFunc) action { return action{minRole: model.RoleManager, handle: h} }
	admin := func(h handlerFunc) action { return action{minRole: model.RoleAdmin, handle: h} }

	return map[string]action{
		// Sessions and users
		"login":             device(s.login),
		"logout":            device(s.logout),
		"validateSession":   device(s.validateSession),
		"checkAuth":         device(s.validateSession),
		"changePassword":    user(s.changePassword),
		"createUser":        manager(s.createUser),
		"getAllUsers":       manager(s.getAllUsers),
		"resetUserPassword": manager(s.resetUserPassword),
		"deactivateUser":    manager(s.deactivateUser),
		"updateUserRole":    admin(s.updateUserRole),
		"deleteUser":        admin(s.deleteUser),

		// Devices
		"authenticateClientByMac": device(s.authenticateClientByMac),
		"updateClientMacCheckin":  device(s.updateClientMacCheckin),
		"getClientByMac":          user(s.getClientByMac),
		"getAllMacClients":        user(s.getAllMacClients),
		"getClientHistory":        user(s.getClientHistory),
		"getActiveClients":        user(s.getActiveClients),
		"deactivateClient":        manager(s.deactivateClient),

		// Notifications
		"getClientNotifications":       device(s.getClientNotifications),
		"acknowledgeNotification":      device(s.acknowledgeNotification),
		"snoozeNotification":           device(s.snoozeNotification),
		"updateNotificationStatus":     device(s.updateNotificationStatus),
		"getActiveNotifications":       user(s.getActiveNotifications),
		"sendNotificationToAllClients": manager(s.sendNotificationToAllClients),
		"sendNotificationToClient":     manager(s.sendNotificationToClient),

		// Website and uninstall requests
		"requestWebsiteAccess":       device(s.requestWebsiteAccess),
		"requestUninstall":           device(s.requestUninstall),
		"getClientUninstallStatus":   device(s.getClientUninstallStatus),
		"getWebsiteRequests":         user(s.getWebsiteRequests),
		"getUninstallRequests":       user(s.getUninstallRequests),
		"reviewWebsiteAccessRequest": manager(s.reviewWebsiteAccessRequest),
		"reviewUninstallRequest":     manager(s.reviewUninstallRequest),

		// Uninstall and folder access keys
		"requestFolderAccessKey":  device(s.requestFolderAccessKey),
		"validateFolderAccessKey": device(s.validateFolderAccessKey),
		"uninstallClients":        admin(s.uninstallClients),
		"issueFolderAccessKey":    admin(s.issueFolderAccessKey),

		// Versions
		"get_version":       device(s.getVersion),
		"getVersionHistory": device(s.getVersionHistory),
		"checkForUpdates":   device(s.checkForUpdates),
		"syncVersions":      admin(s.syncVersions),

		// Housekeeping
		"removeOldActiveNotifications": admin(s.removeOldActiveNotifications),
		"cleanOldNotifications":        admin(s.cleanOldNotifications),
		"clearOldWebsiteRequests":      admin(s.clearOldWebsiteRequests),
	}
}
