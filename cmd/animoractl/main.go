package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/animora/animora/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var stdin = bufio.NewReader(os.Stdin)

var (
	serverURL string
	cfgFile   string
	jsonOut   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "animoractl",
	Short: "Animora accounts CLI",
	Long: `animoractl drives the Animora accounts API from the command line.

It can register and verify accounts, sign in, recover passwords and manage
the signed-in account. The bearer token from login or verify is saved to
~/.animora/token and reused by later commands.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".animora"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("animora")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:5000"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.animora/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Animora API base URL (default http://localhost:5000)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON results")

	rootCmd.AddCommand(registerCmd, verifyCmd, resendCmd, loginCmd, forgotCmd, resetCmd,
		meCmd, changePasswordCmd, deleteAccountCmd, logoutCmd, versionCmd)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func tokenPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".animora", "token")
}

func loadToken() string {
	if t := viper.GetString("token"); t != "" {
		return t
	}
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func saveToken(token string) error {
	p := tokenPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(p), err)
	}
	return os.WriteFile(p, []byte(token+"\n"), 0o600)
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if t := loadToken(); t != "" {
		opts = append(opts, client.WithBearerToken(t))
	}
	return client.New(serverURL, opts...)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// prompt reads a line from stdin when value is empty.
func prompt(label, value string) string {
	if value != "" {
		return value
	}
	fmt.Printf("%s: ", label)
	answer, _ := stdin.ReadString('\n')
	return strings.TrimSpace(answer)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func printUser(u *client.User) {
	if jsonOut {
		printJSON(u)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", u.ID)
	fmt.Fprintf(w, "Username\t%s\n", u.Username)
	fmt.Fprintf(w, "Email\t%s\n", u.Email)
	fmt.Fprintf(w, "Name\t%s\n", u.Name)
	fmt.Fprintf(w, "Role\t%s\n", u.Role)
	fmt.Fprintf(w, "Verified\t%t\n", u.IsVerified)
	fmt.Fprintf(w, "Local password\t%t\n", u.HasLocalPassword)
	fmt.Fprintf(w, "Profile completed\t%t\n", u.ProfileCompleted)
	w.Flush()
}

func storeAuth(res *client.AuthResult) error {
	if err := saveToken(res.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if jsonOut {
		printJSON(res)
		return nil
	}
	fmt.Println(res.Message)
	fmt.Printf("Signed in as %s (%s). Token saved to %s\n", res.User.Username, res.User.Role, tokenPath())
	return nil
}

// ── register ─────────────────────────────────────────────────────────────────

var regReq client.RegisterRequest

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account (a verification code is emailed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		regReq.Email = prompt("Email", regReq.Email)
		regReq.Username = prompt("Username", regReq.Username)
		regReq.Name = prompt("Name", regReq.Name)
		regReq.Password = prompt("Password", regReq.Password)

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		res, err := c.Register(ctx, regReq)
		if err != nil {
			return err
		}
		if jsonOut {
			printJSON(res)
			return nil
		}
		fmt.Println(res.Message)
		fmt.Printf("User ID: %s\n", res.UserID)
		if res.DevCode != "" {
			fmt.Printf("Development code: %s\n", res.DevCode)
		}
		fmt.Printf("Next: animoractl verify --email %s --code <code>\n", res.Email)
		return nil
	},
}

func init() {
	f := registerCmd.Flags()
	f.StringVar(&regReq.Email, "email", "", "email address")
	f.StringVar(&regReq.Username, "username", "", "username")
	f.StringVar(&regReq.Name, "name", "", "display name")
	f.StringVar(&regReq.Password, "password", "", "password")
	f.StringVar(&regReq.Role, "role", "", "client or owner (default client)")
	f.StringVar(&regReq.Phone, "phone", "", "phone number")
	f.StringVar(&regReq.Address, "address", "", "postal address")
}

// ── verify / resend ──────────────────────────────────────────────────────────

var verifyEmail, verifyCode string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an email address with the emailed code",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		res, err := c.VerifyEmail(ctx, prompt("Email", verifyEmail), prompt("Code", verifyCode))
		if err != nil {
			return err
		}
		return storeAuth(res)
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend <email>",
	Short: "Send a fresh verification code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		res, err := c.ResendCode(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			printJSON(res)
			return nil
		}
		fmt.Println(res.Message)
		if res.DevCode != "" {
			fmt.Printf("Development code: %s\n", res.DevCode)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyEmail, "email", "", "email address")
	verifyCmd.Flags().StringVar(&verifyCode, "code", "", "six-digit verification code")
}

// ── login / logout ───────────────────────────────────────────────────────────

var loginIdentifier, loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an email or username",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		res, err := c.Login(ctx, prompt("Email or username", loginIdentifier), prompt("Password", loginPassword))
		if err != nil {
			return err
		}
		return storeAuth(res)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved token",
	Long: `Tokens are stateless; logging out removes the saved copy. The token stays
valid on the server until it expires.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.Remove(tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginIdentifier, "identifier", "", "email or username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password")
}

// ── password recovery ────────────────────────────────────────────────────────

var forgotCmd = &cobra.Command{
	Use:   "forgot-password <email>",
	Short: "Email a password reset link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		res, err := c.ForgotPassword(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			printJSON(res)
			return nil
		}
		fmt.Println(res.Message)
		if res.DevToken != "" {
			fmt.Printf("Development token: %s\nReset URL: %s\n", res.DevToken, res.DevResetURL)
		}
		return nil
	},
}

var resetPassword string

var resetCmd = &cobra.Command{
	Use:   "reset-password <token>",
	Short: "Set a new password using a reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		if err := c.ResetPassword(ctx, args[0], prompt("New password", resetPassword)); err != nil {
			return err
		}
		fmt.Println("Password reset successful. Sign in with your new password.")
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetPassword, "password", "", "new password")
}

// ── signed-in account ────────────────────────────────────────────────────────

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		u, err := c.Me(ctx)
		if err != nil {
			return err
		}
		printUser(u)
		return nil
	},
}

var currentPassword, newPassword string

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the signed-in account's password",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		if err := c.ChangePassword(ctx, prompt("Current password", currentPassword), prompt("New password", newPassword)); err != nil {
			return err
		}
		fmt.Println("Password changed successfully")
		return nil
	},
}

var deleteYes bool

var deleteAccountCmd = &cobra.Command{
	Use:   "delete-account",
	Short: "Permanently delete the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes {
			fmt.Print("This permanently deletes your account. Continue? [y/N]: ")
			answer, _ := stdin.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := cmdContext()
		defer cancel()

		if err := c.DeleteAccount(ctx); err != nil {
			return err
		}
		_ = os.Remove(tokenPath())
		fmt.Println("Account deleted successfully")
		return nil
	},
}

func init() {
	changePasswordCmd.Flags().StringVar(&currentPassword, "current", "", "current password")
	changePasswordCmd.Flags().StringVar(&newPassword, "new", "", "new password")
	deleteAccountCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the animoractl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("animoractl %s\n", version)
	},
}
