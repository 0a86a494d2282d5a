package tui

import "strings"

// 输入框中支持的斜杠命令。
const (
	cmdAttach = "attach"
	cmdModel  = "model"
	cmdNew    = "new"
	cmdDelete = "delete"
	cmdClear  = "clear"
	cmdTheme  = "theme"
	cmdQuit   = "quit"
)

var knownCommands = map[string]bool{
	cmdAttach: true, cmdModel: true, cmdNew: true, cmdDelete: true,
	cmdClear: true, cmdTheme: true, cmdQuit: true,
}

type command struct {
	name string
	arg  string
}

// parseCommand 识别输入最后一行的斜杠命令，前面的内容作为草稿原样返回。
// 草稿非空时只接受已知命令，避免把以 / 开头的正文误当成命令。
func parseCommand(input string) (command, string, bool) {
	text := strings.TrimRight(input, " \t\n")
	draft, line := "", text
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		draft, line = text[:i], text[i+1:]
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, "", false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	if name == "" {
		return command{}, "", false
	}
	cmd := command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
	if strings.TrimSpace(draft) != "" && !knownCommands[cmd.name] {
		return command{}, "", false
	}
	return cmd, draft, true
}

// quickPrompts 是空对话时可以一键填入的示例问题，依次对应 alt+1..alt+3。
var quickPrompts = []string{"帮我写一首诗", "解释量子计算", "用Python写冒泡排序"}

// expandHome 展开路径开头的 ~。
func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return home + path[1:]
	}
	return path
}

const helpText = "enter 发送 · ctrl+n 新对话 · ctrl+o 切换模型 · ctrl+t 主题 · tab 切换会话 · ctrl+d 删除 · /attach <路径> · /clear 清空"
