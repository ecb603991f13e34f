package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/auth"
	"github.com/NicolasHaas/pixgallery/pkg/config"
	"github.com/NicolasHaas/pixgallery/pkg/images"
	"github.com/NicolasHaas/pixgallery/pkg/logging"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/session"
	"github.com/NicolasHaas/pixgallery/pkg/telemetry"
	"github.com/NicolasHaas/pixgallery/pkg/upload"
	"github.com/NicolasHaas/pixgallery/pkg/version"
)

const usage = `Usage: gallery [flags] <command> [args]

Commands:
  register <username> <email> [password]   create an account and sign in
  login <email> [password]                 sign in
  logout                                   forget the local session
  whoami                                   show the cached user
  verify                                   re-check the session with the backend
  list [-page N] [-limit N]                list images
  search [-page N] [-limit N] <query>      filter images by name
  upload [-name N] [-bulk] [-legacy-names] <files...>
                                           upload images (admin only)
  delete <id>                              delete an image (admin only)
  version                                  print version information

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gallery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file")
	envFile := fs.String("env-file", "", "dotenv file (default .env)")
	timeout := fs.Duration("timeout", 30*time.Second, "Warn when a command runs longer than this (0 to disable)")
	logLevel := fs.String("log-level", "", "Log level: "+logging.LevelNames())
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	if name == "version" {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(stderr, errorTextStyle.Render(err.Error()))
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: stderr}); err != nil {
		fmt.Fprintf(stderr, "invalid logging config: %v\n", err)
		return 1
	}

	shutdownTelemetry := telemetry.Setup("pixgallery-cli", cfg.OTLPEndpoint, true)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	path := cfg.SessionFile
	if path == "" {
		path = session.DefaultPath()
	}
	a, err := newApp(cfg, session.NewFileKV(path), stdout)
	if err != nil {
		fmt.Fprintln(stderr, errorTextStyle.Render(err.Error()))
		return 1
	}
	a.in = bufio.NewReader(stdin)

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer watch(name, *timeout)()

	if refreshesSession(name) {
		a.refreshSession(ctx)
	}

	slog.Debug("running command", "command", name, "api", cfg.APIBaseURL, "mode", cfg.Mode, "upload_mode", cfg.UploadMode)
	if err := cmd(ctx, a, rest); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "usage: gallery %s\n", ue)
			return 2
		}
		fmt.Fprintln(stderr, errorTextStyle.Render(describe(err)))
		return 1
	}
	return 0
}

// refreshesSession reports whether the cached session is re-checked before
// the command runs. Commands that replace, drop or verify the session skip it.
func refreshesSession(name string) bool {
	switch name {
	case "register", "login", "logout", "verify":
		return false
	}
	return true
}

// refreshSession verifies the cached session once per invocation. Failures
// other than a rejected token keep the cached session.
func (a *app) refreshSession(ctx context.Context) {
	status, err := a.auth.VerifySession(ctx)
	if err != nil {
		slog.Warn("session refresh", "status", status, "err", err)
		return
	}
	slog.Debug("session refreshed", "status", status)
}

type usageError string

func (e usageError) Error() string { return string(e) }

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"register": cmdRegister,
	"login":    cmdLogin,
	"logout":   cmdLogout,
	"whoami":   cmdWhoami,
	"verify":   cmdVerify,
	"list":     cmdList,
	"search":   cmdSearch,
	"upload":   cmdUpload,
	"delete":   cmdDelete,
}

// describe turns client errors into the short messages shown to the user.
func describe(err error) string {
	var authErr *apiclient.AuthError
	var valErr *upload.ValidationError
	switch {
	case errors.Is(err, auth.ErrNotSignedIn):
		return "not signed in"
	case errors.Is(err, auth.ErrForbidden):
		return "this action needs an admin account"
	case errors.As(err, &authErr):
		return "not authorized: " + authErr.Error()
	case errors.As(err, &valErr):
		return "invalid file: " + valErr.Error()
	case errors.Is(err, upload.ErrDuplicate):
		return "image already exists"
	case apiclient.IsNotFound(err):
		return "not found: " + err.Error()
	}
	return err.Error()
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usageError("register <username> <email> [password]")
	}
	password, err := a.password(args[2:])
	if err != nil {
		return err
	}
	user, err := a.auth.Register(ctx, args[0], args[1], password)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, successStyle.Render("Registered and signed in."))
	a.printUser(user)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("login <email> [password]")
	}
	password, err := a.password(args[1:])
	if err != nil {
		return err
	}
	user, err := a.auth.Login(ctx, args[0], password)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, successStyle.Render("Signed in."))
	a.printUser(user)
	return nil
}

func cmdLogout(_ context.Context, a *app, _ []string) error {
	if err := a.auth.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, mutedStyle.Render("Signed out."))
	return nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) error {
	user := a.sess.User()
	if user == nil {
		return errors.New("not signed in")
	}
	a.printUser(user)
	return nil
}

func cmdVerify(ctx context.Context, a *app, _ []string) error {
	status, err := a.auth.VerifySession(ctx)
	if err != nil {
		return err
	}
	style := mutedStyle
	switch status {
	case auth.StatusVerified:
		style = successStyle
	case auth.StatusInvalidated:
		style = warningStyle
	}
	fmt.Fprintln(a.out, style.Render("session: "+status.String()))
	if user := a.sess.User(); user != nil {
		a.printUser(user)
	}
	return nil
}

func pageFlags(name string, args []string) (page, limit int, rest []string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&page, "page", 1, "page number")
	fs.IntVar(&limit, "limit", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return 0, 0, nil, usageError(name + " [-page N] [-limit N]")
	}
	return page, limit, fs.Args(), nil
}

func cmdList(ctx context.Context, a *app, args []string) error {
	page, limit, _, err := pageFlags("list", args)
	if err != nil {
		return err
	}
	res, err := a.lister.List(ctx, page, limit)
	if err != nil {
		return err
	}
	a.printImages(res)
	return nil
}

func cmdSearch(ctx context.Context, a *app, args []string) error {
	page, limit, rest, err := pageFlags("search", args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return usageError("search [-page N] [-limit N] <query>")
	}
	res, err := images.Search(ctx, a.lister, strings.Join(rest, " "), page, limit)
	if err != nil {
		return err
	}
	a.printImages(res)
	return nil
}

type uploadFlags struct {
	name   string
	bulk   bool
	legacy bool
}

func newUploadFlags() (*flag.FlagSet, *uploadFlags) {
	opts := &uploadFlags{}
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.name, "name", "", "display name (single file only)")
	fs.BoolVar(&opts.bulk, "bulk", false, "send all files in one request (backend mode)")
	fs.BoolVar(&opts.legacy, "legacy-names", false, "store names without their extension (cdn mode)")
	return fs, opts
}

func cmdUpload(ctx context.Context, a *app, args []string) error {
	fs, opts := newUploadFlags()
	display, bulk, legacy := &opts.name, &opts.bulk, &opts.legacy
	const synopsis = "upload [-name N] [-bulk] [-legacy-names] <files...>"
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return usageError(synopsis)
	}
	if *display != "" && fs.NArg() > 1 {
		return usageError(synopsis)
	}

	user, err := a.auth.RequireRole(model.RoleAdmin)
	if err != nil {
		return err
	}
	svc, err := a.uploader(*legacy)
	if err != nil {
		return err
	}

	files := make([]upload.File, 0, fs.NArg())
	for _, path := range fs.Args() {
		f, err := upload.OpenFile(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}
	by := *user.Uploader()

	switch {
	case len(files) == 1:
		files[0].DisplayName = *display
		img, err := svc.Upload(ctx, files[0], by)
		if err != nil {
			return err
		}
		a.printUploaded(img)
	case *bulk:
		imgs, err := svc.UploadBulk(ctx, files, by)
		if err != nil {
			return err
		}
		for _, img := range imgs {
			a.printUploaded(img)
		}
	default:
		sum := svc.UploadMany(ctx, files, by)
		for _, o := range sum.Results {
			if o.Err != nil {
				fmt.Fprintln(a.out, errorTextStyle.Render("✗ "+o.File+": "+describe(o.Err)))
				continue
			}
			a.printUploaded(o.Image)
		}
		fmt.Fprintln(a.out, mutedStyle.Render(fmt.Sprintf("%d uploaded, %d failed", sum.Succeeded, sum.Failed)))
		if sum.Failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", sum.Failed, len(files))
		}
	}
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return usageError("delete <id>")
	}
	if _, err := a.auth.RequireRole(model.RoleAdmin); err != nil {
		return err
	}
	if err := a.lister.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, successStyle.Render("Deleted "+args[0]))
	return nil
}

// password returns the optional argument or reads one line from stdin.
func (a *app) password(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	fmt.Fprint(a.out, "Password: ")
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) printUser(u *model.User) {
	row := func(k, v string) {
		fmt.Fprintln(a.out, infoKeyStyle.Render(k)+infoValueStyle.Render(v))
	}
	row("Username", u.Username)
	row("Email", u.Email)
	row("Role", u.Role.String())
}

func (a *app) printImages(res images.Result) {
	if len(res.Images) == 0 {
		fmt.Fprintln(a.out, mutedStyle.Render("No images."))
		return
	}
	fmt.Fprintln(a.out, headerStyle.Render(idStyle.Render("ID")+nameStyle.Render("NAME")+"SOURCE"))
	for _, img := range res.Images {
		fmt.Fprintln(a.out, idStyle.Render(img.ID)+nameStyle.Render(img.DisplayName)+sourceLabel(img.Source))
	}
	if p := res.Pagination; p != nil {
		fmt.Fprintln(a.out, mutedStyle.Render(fmt.Sprintf("page %d/%d, %d total", p.Page, max(p.TotalPages, 1), p.Total)))
	}
}

func (a *app) printUploaded(img model.Image) {
	fmt.Fprintln(a.out, successStyle.Render("✓ ")+idStyle.Render(img.ID)+nameStyle.Render(img.DisplayName)+sourceLabel(img.Source))
}

func sourceLabel(src model.Source) string {
	switch src.Kind() {
	case model.SourceLinked:
		return src.URL()
	case model.SourceInline:
		data, mime := src.Data()
		return fmt.Sprintf("inline %s, %d bytes", mime, len(data))
	}
	return mutedStyle.Render("no source")
}
