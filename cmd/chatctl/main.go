// chatctl is a small terminal front end for the conversation client.
// It is display glue only: all state lives in the controller and its
// session store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	chatclient "github.com/creastat/chatclient"
	"github.com/creastat/chatclient/api"
	"github.com/creastat/chatclient/controller"
	"github.com/creastat/chatclient/kv"
	"github.com/creastat/chatclient/session"
)

var (
	baseURL  string
	token    string
	redisURL string
	verbose  bool
	columns  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal client for the course chat assistant",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:5000/api", "conversation service base URL")
	rootCmd.Flags().StringVar(&token, "token", "", "bearer credential (stored for the session)")
	rootCmd.Flags().StringVar(&redisURL, "redis", "", "optional Redis URL for persisted credential and snapshot cache")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().IntVar(&columns, "columns", 80, "soft wrap column budget")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := newKVStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if token != "" {
		if err := store.Set(ctx, kv.KeyAccessToken, token); err != nil {
			return err
		}
	}

	service, err := api.New(api.Config{BaseURL: baseURL})
	if err != nil {
		return err
	}

	ctrl, err := controller.New(controller.Config{
		API:         service,
		Credentials: store,
		Cache:       store,
		Logger:      log.Logger,
	})
	if err != nil {
		return err
	}

	if err := ctrl.Restore(ctx); err != nil {
		if chatclient.IsUnauthorized(err) {
			return fmt.Errorf("not authenticated; pass --token")
		}
		fmt.Fprintf(os.Stderr, "could not load conversations: %v\n", err)
	}

	fmt.Println("연결되었습니다. /help 로 명령을 확인하세요.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, ctrl, line); quit {
				return nil
			}
			continue
		}

		if err := ctrl.Send(ctx, line); err != nil {
			printError(err)
			continue
		}
		printTail(ctrl.View())
	}
}

func newKVStore() (kv.Store, error) {
	if redisURL == "" {
		return kv.New(kv.StoreTypeMemory)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return kv.New(kv.StoreTypeRedis, kv.WithRedisClient(redis.NewClient(opts)))
}

func command(ctx context.Context, ctrl *controller.Controller, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/new":
		ctrl.NewConversation()
		fmt.Println("새 대화를 시작합니다.")
	case "/list":
		view := ctrl.View()
		if len(view.Conversations) == 0 {
			fmt.Println("채팅방이 없습니다")
			break
		}
		for _, conv := range view.Conversations {
			marker := " "
			if view.Active != nil && view.Active.LocalID == conv.LocalID {
				marker = "*"
			}
			id := conv.ID
			if id == "" {
				id = "(local)"
			}
			fmt.Printf("%s %s  %s\n", marker, id, conv.Title)
		}
	case "/select":
		if len(fields) < 2 {
			fmt.Println("usage: /select <id>")
			break
		}
		if err := ctrl.Select(ctx, fields[1]); err != nil {
			printError(err)
			break
		}
		printTranscript(ctrl.View())
	case "/delete":
		if len(fields) < 2 {
			fmt.Println("usage: /delete <id>")
			break
		}
		if err := ctrl.Delete(ctx, fields[1]); err != nil {
			printError(err)
		}
	case "/logout":
		if err := ctrl.Logout(ctx); err != nil {
			printError(err)
			break
		}
		fmt.Println("로그아웃되었습니다.")
	case "/help":
		fmt.Println("/new /list /select <id> /delete <id> /logout /quit")
	default:
		fmt.Println("unknown command; /help")
	}
	return false
}

func printError(err error) {
	switch {
	case chatclient.IsUnauthorized(err):
		fmt.Println("인증이 만료되었습니다. 다시 로그인해주세요.")
	case chatclient.IsBusy(err):
		fmt.Println("아직 처리 중입니다...")
	default:
		fmt.Printf("오류: %v\n", err)
	}
}

func printTail(view controller.View) {
	if view.Active == nil || len(view.Active.Messages) == 0 {
		return
	}
	printMessage(view.Active.Messages[len(view.Active.Messages)-1])
}

func printTranscript(view controller.View) {
	if view.Active == nil {
		return
	}
	for _, msg := range view.Active.Messages {
		printMessage(msg)
	}
}

func printMessage(msg session.Message) {
	prefix := "나"
	if msg.Author == session.AuthorAssistant {
		prefix = "챗봇"
	}
	for _, line := range chatclient.WrapText(renderPlain(msg.Text), columns) {
		fmt.Printf("[%s] %s\n", prefix, line)
	}
	for _, source := range msg.Sources {
		fmt.Printf("    · %s %s %s\n", source.CourseName, source.Professor, source.Section)
	}
}

// renderPlain flattens bold segments for a plain terminal.
func renderPlain(text string) string {
	var b strings.Builder
	for _, segment := range chatclient.RenderSegments(text) {
		b.WriteString(segment.Text)
	}
	return b.String()
}
