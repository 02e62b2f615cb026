package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestService_RegisterThenConflict(t *testing.T) {
	svc, _, pub := testService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "pw123"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.User.Role != RoleUser {
		t.Errorf("Role = %q, want user", res.User.Role)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Error("Register() should auto-login with both tokens")
	}
	if res.TokenType != "Bearer" || res.ExpiresIn != 1800 {
		t.Errorf("TokenType=%q ExpiresIn=%d, want Bearer/1800", res.TokenType, res.ExpiresIn)
	}

	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@x.com", Password: "pw123"})
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("second Register() error = %v, want ErrUsernameExists", err)
	}

	if !slices.Contains(pub.kinds(), EventRegistered) {
		t.Errorf("events = %v, want registered", pub.kinds())
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing password", RegisterInput{Username: "bob", Email: "bob@x.com"}},
		{"missing email", RegisterInput{Username: "bob", Password: "pw"}},
		{"bad username", RegisterInput{Username: "bob smith", Email: "bob@x.com", Password: "pw"}},
		{"bad email", RegisterInput{Username: "bob", Email: "not-an-email", Password: "pw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Register() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestService_Login(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "pw123"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	t.Run("wrong password echoes email", func(t *testing.T) {
		_, err := svc.Login(ctx, LoginInput{Identifier: "alice", Password: "wrongpw"})
		var credErr *CredentialsError
		if !errors.As(err, &credErr) {
			t.Fatalf("Login() error = %v, want CredentialsError", err)
		}
		if credErr.Email != "alice@x.com" {
			t.Errorf("Email = %q, want alice@x.com", credErr.Email)
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Error("CredentialsError should match ErrInvalidCredentials")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Login(ctx, LoginInput{Identifier: "nobody", Password: "pw123"})
		var credErr *CredentialsError
		if errors.As(err, &credErr) {
			t.Error("unknown user must not carry an email")
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
		}
	})

	for _, identifier := range []string{"alice", "alice@x.com"} {
		t.Run("success by "+identifier, func(t *testing.T) {
			res, err := svc.Login(ctx, LoginInput{Identifier: identifier, Password: "pw123"})
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if res.User.Username != "alice" {
				t.Errorf("Username = %q, want alice", res.User.Username)
			}
			claims, err := svc.Issuer().VerifyAccess(res.AccessToken)
			if err != nil {
				t.Fatalf("VerifyAccess() error = %v", err)
			}
			if claims.UserID != res.User.ID || claims.Role != RoleUser {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestService_LoginLockedAccount(t *testing.T) {
	svc, db, pub := testService(t)
	ctx := context.Background()

	user := seedTestUser(t, db, "locked", RoleUser)
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	NewUserRepository(db).SetLockedUntil(ctx, user.ID, &until) //nolint:errcheck // test setup

	_, err := svc.Login(ctx, LoginInput{Identifier: "locked", Password: "test-password"})
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Login() error = %v, want LockError", err)
	}
	if !lockErr.Until.Equal(until) {
		t.Errorf("Until = %v, want %v", lockErr.Until, until)
	}
	if !slices.Contains(pub.kinds(), EventLoginLocked) {
		t.Errorf("events = %v, want login_locked", pub.kinds())
	}

	// A lock in the past no longer blocks.
	past := time.Now().Add(-time.Hour)
	NewUserRepository(db).SetLockedUntil(ctx, user.ID, &past) //nolint:errcheck // test setup
	if _, err := svc.Login(ctx, LoginInput{Identifier: "locked", Password: "test-password"}); err != nil {
		t.Errorf("Login() after lock expiry error = %v", err)
	}
}

func TestService_LoginPrivilegedNeedsAdminPlatform(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	seedTestUser(t, db, "mod", RoleAdmin)
	seedTestUser(t, db, "boss", RoleOwn)

	for _, name := range []string{"mod", "boss"} {
		_, err := svc.Login(ctx, LoginInput{Identifier: name, Password: "test-password"})
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("Login(%s) without platform error = %v, want ErrForbidden", name, err)
		}

		res, err := svc.Login(ctx, LoginInput{Identifier: name, Password: "test-password", AdminPlatform: true})
		if err != nil {
			t.Fatalf("Login(%s) with platform error = %v", name, err)
		}
		if res.RefreshToken == "" {
			t.Error("privileged login should still issue a refresh token")
		}
	}
}

func TestService_LoginUpgradesLegacyHash(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	legacy, _ := bcrypt.GenerateFromPassword([]byte("pw123"), bcrypt.MinCost) //nolint:errcheck // test setup
	repo := NewUserRepository(db)
	user := &User{Username: "oldtimer", Email: "old@x.com", PasswordHash: string(legacy), Role: RoleUser}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.Login(ctx, LoginInput{Identifier: "oldtimer", Password: "pw123"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	stored, _ := repo.GetByID(ctx, user.ID)
	if NeedsRehash(stored.PasswordHash) {
		t.Errorf("stored hash should be upgraded, got %q", stored.PasswordHash[:8])
	}
}

func TestService_Refresh(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterInput{Username: "ref", Email: "ref@x.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	access, err := svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	claims, err := svc.Issuer().VerifyAccess(access)
	if err != nil || claims.UserID != res.User.ID {
		t.Fatalf("refreshed access token invalid: %v %+v", err, claims)
	}

	// Role changes are picked up on refresh.
	NewUserRepository(db).UpdateRole(ctx, res.User.ID, RoleGuest) //nolint:errcheck // test setup
	access, _ = svc.Refresh(ctx, res.RefreshToken)                 //nolint:errcheck // checked below
	if claims, _ := svc.Issuer().VerifyAccess(access); claims == nil || claims.Role != RoleGuest {
		t.Errorf("refreshed role = %v, want guest", claims)
	}

	if _, err := svc.Refresh(ctx, "bogus"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(bogus) error = %v, want ErrTokenInvalid", err)
	}
}

func TestService_LogoutAndLogoutAll(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, RegisterInput{Username: "out", Email: "out@x.com", Password: "pw"}) //nolint:errcheck // test setup

	if err := svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh() after logout error = %v, want ErrTokenInvalid", err)
	}

	again, _ := svc.Login(ctx, LoginInput{Identifier: "out", Password: "pw"}) //nolint:errcheck // test setup
	n, err := svc.LogoutAll(ctx, Identity{UserID: again.User.ID, Role: RoleUser})
	if err != nil || n != 1 {
		t.Errorf("LogoutAll() = %d, %v; want 1, nil", n, err)
	}
}

func TestService_LockRevokesSessions(t *testing.T) {
	svc, db, pub := testService(t)
	ctx := context.Background()

	admin := seedTestUser(t, db, "mod", RoleAdmin)
	res, _ := svc.Register(ctx, RegisterInput{Username: "target", Email: "t@x.com", Password: "pw"}) //nolint:errcheck // test setup
	requester := Identity{UserID: admin.ID, Role: RoleAdmin}

	locked, err := svc.LockUser(ctx, requester, res.User.ID, Lock1Day)
	if err != nil {
		t.Fatalf("LockUser() error = %v", err)
	}
	if locked.LockedUntil == nil {
		t.Fatal("LockedUntil should be set")
	}

	if _, err := svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh() after lock error = %v, want ErrTokenInvalid", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Identifier: "target", Password: "pw"}); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("Login() while locked error = %v, want ErrAccountLocked", err)
	}

	unlocked, err := svc.LockUser(ctx, requester, res.User.ID, LockUnlock)
	if err != nil {
		t.Fatalf("unlock error = %v", err)
	}
	if unlocked.LockedUntil != nil {
		t.Error("unlock should clear LockedUntil")
	}
	if _, err := svc.Login(ctx, LoginInput{Identifier: "target", Password: "pw"}); err != nil {
		t.Errorf("Login() after unlock error = %v", err)
	}

	kinds := pub.kinds()
	if !slices.Contains(kinds, EventLocked) || !slices.Contains(kinds, EventUnlocked) {
		t.Errorf("events = %v, want locked and unlocked", kinds)
	}
}

func TestService_UnlockKeepsSessions(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	owner := seedTestUser(t, db, "boss", RoleOwn)
	res, _ := svc.Register(ctx, RegisterInput{Username: "keep", Email: "k@x.com", Password: "pw"}) //nolint:errcheck // test setup

	if _, err := svc.LockUser(ctx, Identity{owner.ID, RoleOwn}, res.User.ID, LockUnlock); err != nil {
		t.Fatalf("LockUser(unlock) error = %v", err)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); err != nil {
		t.Errorf("session should survive unlock, got %v", err)
	}
}

func TestService_GuardedActions(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	owner := seedTestUser(t, db, "boss", RoleOwn)
	admin := seedTestUser(t, db, "mod", RoleAdmin)
	admin2 := seedTestUser(t, db, "mod2", RoleAdmin)
	user := seedTestUser(t, db, "member", RoleUser)

	asAdmin := Identity{admin.ID, RoleAdmin}
	asOwner := Identity{owner.ID, RoleOwn}

	if _, err := svc.DeleteUser(ctx, asAdmin, owner.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("admin deletes own: %v, want ErrForbidden", err)
	}
	if _, err := svc.LockUser(ctx, asAdmin, admin2.ID, Lock1Hour); !errors.Is(err, ErrForbidden) {
		t.Errorf("admin locks admin: %v, want ErrForbidden", err)
	}
	if _, err := svc.DeleteUser(ctx, asOwner, owner.ID); !errors.Is(err, ErrSelfAction) {
		t.Errorf("own deletes self: %v, want ErrSelfAction", err)
	}
	if _, err := svc.ChangeRole(ctx, asAdmin, user.ID, RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Errorf("admin changes role: %v, want ErrForbidden", err)
	}
	if _, err := svc.DeleteUser(ctx, asAdmin, "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing target: %v, want ErrUserNotFound", err)
	}

	if _, err := svc.DeleteUser(ctx, asAdmin, user.ID); err != nil {
		t.Errorf("admin deletes user: %v", err)
	}
	if _, err := svc.LockUser(ctx, asOwner, admin2.ID, LockPermanent); err != nil {
		t.Errorf("own locks admin: %v", err)
	}
}

func TestService_ChangeRoleRevokesSessions(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	owner := seedTestUser(t, db, "boss", RoleOwn)
	res, _ := svc.Register(ctx, RegisterInput{Username: "promo", Email: "p@x.com", Password: "pw"}) //nolint:errcheck // test setup

	got, err := svc.ChangeRole(ctx, Identity{owner.ID, RoleOwn}, res.User.ID, RoleAdmin)
	if err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}
	if got.Role != RoleAdmin {
		t.Errorf("Role = %q, want admin", got.Role)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("old session after role change: %v, want ErrTokenInvalid", err)
	}

	if _, err := svc.ChangeRole(ctx, Identity{owner.ID, RoleOwn}, res.User.ID, Role("root")); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ChangeRole(root) error = %v, want ErrInvalidRole", err)
	}
}

func TestService_RevokeUserSessions(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	admin := seedTestUser(t, db, "mod", RoleAdmin)
	res, _ := svc.Register(ctx, RegisterInput{Username: "kick", Email: "kick@x.com", Password: "pw"}) //nolint:errcheck // test setup

	n, err := svc.RevokeUserSessions(ctx, Identity{admin.ID, RoleAdmin}, res.User.ID)
	if err != nil || n != 1 {
		t.Fatalf("RevokeUserSessions() = %d, %v; want 1, nil", n, err)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh() after revoke: %v, want ErrTokenInvalid", err)
	}
}

func TestService_GuestLifecycle(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	res, err := svc.GuestLogin(ctx)
	if err != nil {
		t.Fatalf("GuestLogin() error = %v", err)
	}
	if res.User.Role != RoleGuest {
		t.Errorf("Role = %q, want guest", res.User.Role)
	}
	if !IsValidUsername(res.User.Username) {
		t.Errorf("guest username %q is not valid", res.User.Username)
	}

	if err := svc.DeleteGuest(ctx, Identity{res.User.ID, RoleUser}); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteGuest() as user: %v, want ErrForbidden", err)
	}
	if err := svc.DeleteGuest(ctx, Identity{res.User.ID, RoleGuest}); err != nil {
		t.Fatalf("DeleteGuest() error = %v", err)
	}
	if _, err := svc.Profile(ctx, res.User.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("guest should be gone, got %v", err)
	}
}

// takenNames fails the first n creates as if the username were taken.
type takenNames struct {
	UserRepository
	n     int
	tried []string
}

func (r *takenNames) Create(ctx context.Context, u *User) error {
	r.tried = append(r.tried, u.Username)
	if len(r.tried) <= r.n {
		return ErrUsernameExists
	}
	return r.UserRepository.Create(ctx, u)
}

func TestService_GuestNameRetriedOnCollision(t *testing.T) {
	db := testDB(t)
	iss := testIssuer(t)
	users := &takenNames{UserRepository: NewUserRepository(db), n: guestNameAttempts - 1}
	svc, err := NewService(ServiceDeps{
		Users:    users,
		Sessions: NewSessions(NewTokenRepository(db), iss),
		Issuer:   iss,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	res, err := svc.GuestLogin(context.Background())
	if err != nil {
		t.Fatalf("GuestLogin() error = %v", err)
	}
	if len(users.tried) != guestNameAttempts {
		t.Errorf("attempts = %d, want %d", len(users.tried), guestNameAttempts)
	}
	if users.tried[0] == users.tried[1] {
		t.Error("each attempt should draw a new name")
	}

	name := res.User.Username
	suffix, ok := strings.CutPrefix(name, "guest-")
	if !ok || len(suffix) != 2*guestSuffixBytes {
		t.Errorf("guest username = %q, want guest- plus %d hex chars", name, 2*guestSuffixBytes)
	}

	users.tried, users.n = nil, guestNameAttempts
	if _, err := svc.GuestLogin(context.Background()); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("GuestLogin() after %d collisions error = %v, want ErrUsernameExists", guestNameAttempts, err)
	}
}

func TestService_SyncPassword(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	svc.Register(ctx, RegisterInput{Username: "sync", Email: "sync@x.com", Password: "old"}) //nolint:errcheck // test setup
	seedTestUser(t, db, "mod", RoleAdmin)

	if _, err := svc.SyncPassword(ctx, "sync@x.com", "new"); err != nil {
		t.Fatalf("SyncPassword() error = %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Identifier: "sync", Password: "new"}); err != nil {
		t.Errorf("Login() with synced password: %v", err)
	}

	if _, err := svc.SyncPassword(ctx, "ghost@x.com", "new"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SyncPassword(unknown) error = %v, want ErrUserNotFound", err)
	}
	if _, err := svc.SyncPassword(ctx, "mod@example.com", "new"); !errors.Is(err, ErrForbidden) {
		t.Errorf("SyncPassword(admin) error = %v, want ErrForbidden", err)
	}
}

func TestService_ProfileAndCheckEmail(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	res, _ := svc.Register(ctx, RegisterInput{Username: "prof", Email: "prof@x.com", Password: "pw", FullName: "Pro F"}) //nolint:errcheck // test setup

	bio := "tenor"
	updated, err := svc.UpdateProfile(ctx, Identity{res.User.ID, RoleUser}, ProfileUpdate{Bio: &bio})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if updated.Bio != "tenor" || updated.FullName != "Pro F" {
		t.Errorf("profile = %+v", updated)
	}

	pub, err := svc.PublicProfile(ctx, res.User.ID)
	if err != nil || pub.Bio != "tenor" {
		t.Errorf("PublicProfile() = %+v, %v", pub, err)
	}

	if ok, _ := svc.CheckEmail(ctx, "PROF@x.com"); !ok {
		t.Error("CheckEmail() should find the registered email")
	}
	if _, err := svc.CheckEmail(ctx, " "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("CheckEmail(blank) error = %v, want ErrInvalidInput", err)
	}
}

func TestService_ListUsersNeedsPermission(t *testing.T) {
	svc, db, _ := testService(t)
	ctx := context.Background()

	admin := seedTestUser(t, db, "mod", RoleAdmin)
	user := seedTestUser(t, db, "member", RoleUser)

	if _, err := svc.ListUsers(ctx, Identity{user.ID, RoleUser}); !errors.Is(err, ErrForbidden) {
		t.Errorf("ListUsers() as user: %v, want ErrForbidden", err)
	}
	users, err := svc.ListUsers(ctx, Identity{admin.ID, RoleAdmin})
	if err != nil || len(users) != 2 {
		t.Errorf("ListUsers() = %d users, %v; want 2", len(users), err)
	}
}

func TestService_PublisherFailureDoesNotFailLogin(t *testing.T) {
	db := testDB(t)
	iss := testIssuer(t)
	failing := EventPublisherFunc(func(Event) error { return errors.New("broker down") })

	svc, err := NewService(ServiceDeps{
		Users:    NewUserRepository(db),
		Sessions: NewSessions(NewTokenRepository(db), iss),
		Issuer:   iss,
		Events:   MultiPublisher(nil, failing),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterInput{Username: "x", Email: "x@x.com", Password: "pw"}); err != nil {
		t.Errorf("Register() with failing publisher error = %v", err)
	}
}
