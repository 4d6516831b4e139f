// Command vintedwatch はマーケットプレイスの保存済み検索を監視するAPIサーバー・ワーカー。
//
//	vintedwatch [serve]                  APIサーバー
//	vintedwatch worker                   定期リフレッシュ
//	vintedwatch migrate [up|down N|status]
//	vintedwatch healthcheck              Dockerヘルスチェック用
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/vintedwatch/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
